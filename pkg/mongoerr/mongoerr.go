// Package mongoerr carries the numeric error codes the engine surfaces
// in command responses. Every error has a stable code, a short name and
// a message; propagation is by value through ordinary error returns.
package mongoerr

import (
	"errors"
	"fmt"
)

// Code is a stable numeric server error code
type Code int32

const (
	CodeInternalError              Code = 1
	CodeBadValue                   Code = 2
	CodeFailedToParse              Code = 9
	CodeTypeMismatch               Code = 14
	CodeIllegalOperation           Code = 20
	CodeIndexNotFound              Code = 27
	CodePathNotViable              Code = 28
	CodeConflictingUpdateOperators Code = 40
	CodeCursorNotFound             Code = 43
	CodeNamespaceExists            Code = 48
	CodeMaxTimeMSExpired           Code = 50
	CodeDollarPrefixedFieldName    Code = 52
	CodeInvalidIdField             Code = 53
	CodeNotSingleValueField        Code = 54
	CodeImmutableField             Code = 66
	CodeInvalidOptions             Code = 72
	CodeInvalidNamespace           Code = 73
	CodeInvalidPipelineOperator    Code = 168
	CodeQueryCanceled              Code = 175
	CodeDuplicateKey               Code = 11000

	// Location-style codes quoted verbatim by specific validations
	CodeFieldPathEmptyName    Code = 15998
	CodeExpressionOneField    Code = 15983
	CodeExpressionArity       Code = 16020
	CodeDivideByZero          Code = 16608
	CodeModByZero             Code = 16610
	CodeProjectionEmptySpec   Code = 40177
	CodeUnknownPipelineStage  Code = 40324
	CodeFieldPathTrailingDot  Code = 40353
	CodeArrayElemAtArity      Code = 28667
	CodeArrayElemAtFirstArg   Code = 28689
	CodeArrayElemAtSecondArg  Code = 28690
	CodeLetRequiresDocument   Code = 16874
	CodeMapRequiresArray      Code = 16883
	CodeFilterRequiresArray   Code = 28651
	CodeReduceRequiresArray   Code = 40080
	CodeSwitchNoMatchingCase  Code = 40066
	CodeSizeRequiresArray     Code = 17124
	CodeConcatRequiresStrings Code = 16702
	CodeSubstrStartValue      Code = 50752
	CodeInclusionInExclusion  Code = 31253
	CodeExclusionInInclusion  Code = 31254
	CodeUndefinedVariable     Code = 17276
)

var codeNames = map[Code]string{
	CodeInternalError:              "InternalError",
	CodeBadValue:                   "BadValue",
	CodeFailedToParse:              "FailedToParse",
	CodeTypeMismatch:               "TypeMismatch",
	CodeIllegalOperation:           "IllegalOperation",
	CodeIndexNotFound:              "IndexNotFound",
	CodePathNotViable:              "PathNotViable",
	CodeConflictingUpdateOperators: "ConflictingUpdateOperators",
	CodeCursorNotFound:             "CursorNotFound",
	CodeNamespaceExists:            "NamespaceExists",
	CodeMaxTimeMSExpired:           "MaxTimeMSExpired",
	CodeDollarPrefixedFieldName:    "DollarPrefixedFieldName",
	CodeInvalidIdField:             "InvalidIdField",
	CodeNotSingleValueField:        "NotSingleValueField",
	CodeImmutableField:             "ImmutableField",
	CodeInvalidOptions:             "InvalidOptions",
	CodeInvalidNamespace:           "InvalidNamespace",
	CodeInvalidPipelineOperator:    "InvalidPipelineOperator",
	CodeQueryCanceled:              "QueryCanceled",
	CodeDuplicateKey:               "DuplicateKey",
}

// Name returns the short name of the code, or "Location<code>" for the
// numbered validation codes that have no symbolic name
func (c Code) Name() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Location%d", int32(c))
}

// Error is a server error carrying a numeric code
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New creates an error with the given code and message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with the given code and formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an InternalError wrapping an unexpected cause
func Wrap(cause error, message string) *Error {
	return &Error{Code: CodeInternalError, Message: message, cause: cause}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("[Error %d] %s", int32(e.Code), e.Message)
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by code
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// CodeOf extracts the numeric code from an error chain, or
// CodeInternalError when the error carries no code
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalError
}

// HasCode reports whether the error chain carries the given code
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// NewBadValue creates a BadValue error
func NewBadValue(message string) *Error {
	return New(CodeBadValue, message)
}

// NewTypeMismatch creates a TypeMismatch error
func NewTypeMismatch(message string) *Error {
	return New(CodeTypeMismatch, message)
}

// NewFailedToParse creates a FailedToParse error
func NewFailedToParse(message string) *Error {
	return New(CodeFailedToParse, message)
}

// NewPathNotViable creates a PathNotViable error
func NewPathNotViable(message string) *Error {
	return New(CodePathNotViable, message)
}

// NewImmutableField creates an ImmutableField error
func NewImmutableField(message string) *Error {
	return New(CodeImmutableField, message)
}

// NewDuplicateKey creates a DuplicateKey error
func NewDuplicateKey(message string) *Error {
	return New(CodeDuplicateKey, message)
}

// NewCursorNotFound creates a CursorNotFound error
func NewCursorNotFound(cursorID int64) *Error {
	return Newf(CodeCursorNotFound, "cursor id %d not found", cursorID)
}

// NewQueryCanceled creates a QueryCanceled error
func NewQueryCanceled() *Error {
	return New(CodeQueryCanceled, "operation was interrupted")
}

// NewMaxTimeMSExpired creates a MaxTimeMSExpired error
func NewMaxTimeMSExpired() *Error {
	return New(CodeMaxTimeMSExpired, "operation exceeded time limit")
}
