// Package normalize flattens the polymorphic shapes the backend uses in
// socket payloads before any business logic sees them.
package normalize

import "strings"

// ObjectRef returns the bare id carried by a payload field that is delivered
// either as a plain string id or as a nested object containing an "_id" key.
// An empty string means no usable id was present.
func ObjectRef(v interface{}) string {
	switch ref := v.(type) {
	case string:
		return ref
	case map[string]interface{}:
		if id, ok := ref["_id"].(string); ok {
			return id
		}
	}
	return ""
}

// ImageURL resolves an image reference against the uploads base URL.
// Absolute URLs pass through unchanged; anything else is treated as a
// relative upload identifier.
func ImageURL(value, baseURL string) string {
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http") {
		return value
	}
	return strings.TrimSuffix(baseURL, "/") + "/uploads/" + value
}
