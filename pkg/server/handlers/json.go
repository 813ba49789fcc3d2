package handlers

import (
	"encoding/base64"
	"time"

	"github.com/mnohosten/marlin-db/pkg/document"
)

// jsonValue renders an engine value as a JSON-encodable value, using
// extended-JSON-style wrappers for the types JSON cannot express
func jsonValue(v interface{}) interface{} {
	switch value := v.(type) {
	case *document.Document:
		result := make(map[string]interface{}, value.Len())
		for _, entry := range value.Entries() {
			result[entry.Key] = jsonValue(entry.Value)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(value))
		for i, element := range value {
			result[i] = jsonValue(element)
		}
		return result
	case document.ObjectID:
		return map[string]interface{}{"$oid": value.Hex()}
	case time.Time:
		return map[string]interface{}{"$date": value.UTC().Format(time.RFC3339Nano)}
	case document.Timestamp:
		return map[string]interface{}{"$timestamp": map[string]interface{}{"t": value.T, "i": value.I}}
	case document.Binary:
		return map[string]interface{}{
			"$binary": map[string]interface{}{
				"base64":  base64.StdEncoding.EncodeToString(value.Data),
				"subType": value.Subtype,
			},
		}
	case document.Regex:
		return map[string]interface{}{
			"$regularExpression": map[string]interface{}{
				"pattern": value.Pattern,
				"options": value.Options,
			},
		}
	case document.MinKey:
		return map[string]interface{}{"$minKey": 1}
	case document.MaxKey:
		return map[string]interface{}{"$maxKey": 1}
	case document.Undefined:
		return map[string]interface{}{"$undefined": true}
	case document.Missing:
		return nil
	default:
		return value
	}
}
