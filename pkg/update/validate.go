package update

import (
	"strings"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/path"
)

// ValidateFieldNames rejects dollar-prefixed field names in replacement
// and inserted documents, except the DBRef reference keys
func ValidateFieldNames(doc *document.Document) error {
	return validateFieldNames(doc, "")
}

func validateFieldNames(value interface{}, pathPrefix string) error {
	switch v := value.(type) {
	case *document.Document:
		for _, entry := range v.Entries() {
			nextPath := entry.Key
			if pathPrefix != "" {
				nextPath = pathPrefix + path.Delimiter + entry.Key
			}
			if strings.HasPrefix(entry.Key, "$") && !document.IsReferenceKey(entry.Key) {
				return mongoerr.Newf(mongoerr.CodeDollarPrefixedFieldName,
					"The dollar ($) prefixed field '%s' in '%s' is not allowed in the context of an update's replacement document. Consider using an aggregation pipeline with $replaceWith.",
					entry.Key, nextPath)
			}
		}
		return nil
	case []interface{}:
		for _, element := range v {
			if err := validateFieldNames(element, pathPrefix+path.Delimiter); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}
