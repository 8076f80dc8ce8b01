package masking

import "strings"

const maskToken = "****"

// MaskSecret redacts a value while keeping the last four characters.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskFields returns a copy of input with the named keys redacted.
func MaskFields(input map[string]any, keys ...string) map[string]any {
	if len(input) == 0 {
		return nil
	}
	sensitive := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		sensitive[key] = struct{}{}
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := sensitive[key]; ok {
			if s, isString := value.(string); isString {
				out[key] = MaskSecret(s)
				continue
			}
		}
		out[key] = value
	}
	return out
}
