// Package utils provides type assertion helpers for loosely typed maps,
// such as decoded YAML effect parameters.
package utils

// GetString extracts a string value from a decoded map, returning
// defaultVal when the key is absent or holds a non-string.
func GetString(m map[string]any, key, defaultVal string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return defaultVal
}
