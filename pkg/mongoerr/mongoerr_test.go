package mongoerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorRendering(t *testing.T) {
	err := New(CodeProjectionEmptySpec, "specification must have at least one field")
	if err.Error() != "[Error 40177] specification must have at least one field" {
		t.Errorf("Unexpected rendering: %q", err.Error())
	}
}

func TestCodeNames(t *testing.T) {
	tests := []struct {
		code     Code
		expected string
	}{
		{CodeBadValue, "BadValue"},
		{CodeFailedToParse, "FailedToParse"},
		{CodePathNotViable, "PathNotViable"},
		{CodeConflictingUpdateOperators, "ConflictingUpdateOperators"},
		{CodeDuplicateKey, "DuplicateKey"},
		{CodeFieldPathTrailingDot, "Location40353"},
		{CodeFieldPathEmptyName, "Location15998"},
	}
	for _, tt := range tests {
		if got := tt.code.Name(); got != tt.expected {
			t.Errorf("Name(%d) = %q, expected %q", tt.code, got, tt.expected)
		}
	}
}

func TestHasCodeThroughWrapping(t *testing.T) {
	err := NewBadValue("nope")
	wrapped := fmt.Errorf("outer: %w", err)
	if !HasCode(wrapped, CodeBadValue) {
		t.Error("Expected code to survive wrapping")
	}
	if HasCode(wrapped, CodeTypeMismatch) {
		t.Error("Expected mismatched code not to match")
	}
	if CodeOf(wrapped) != CodeBadValue {
		t.Errorf("CodeOf = %d", CodeOf(wrapped))
	}
	if CodeOf(errors.New("plain")) != CodeInternalError {
		t.Error("Expected plain errors to map to InternalError")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(cause, "storage failed")
	if !errors.Is(err, cause) {
		t.Error("Expected cause to be reachable via errors.Is")
	}
	if CodeOf(err) != CodeInternalError {
		t.Errorf("Expected InternalError, got %d", CodeOf(err))
	}
}

func TestIsMatchesByCode(t *testing.T) {
	if !errors.Is(NewBadValue("a"), NewBadValue("b")) {
		t.Error("Expected errors with the same code to match")
	}
	if errors.Is(NewBadValue("a"), NewTypeMismatch("b")) {
		t.Error("Expected different codes not to match")
	}
}
