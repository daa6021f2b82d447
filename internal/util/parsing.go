package util

// GetStringArray reads key out of m as a string slice, skipping any element
// that isn't a non-empty string. Used to pull a JSON-schema's "required"
// list out of a tool's generic parameters map without a full unmarshal.
func GetStringArray(m map[string]interface{}, key string) []string {
	if val, ok := m[key]; ok {
		if arr, ok := val.([]interface{}); ok {
			result := make([]string, 0, len(arr))
			for _, item := range arr {
				if str, ok := item.(string); ok && str != "" {
					result = append(result, str)
				}
			}
			return result
		}
	}
	return nil
}
