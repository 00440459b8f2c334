package match

import "encoding/json"

// ParseValue decodes raw as a JSON value, falling back to the raw string.
// It is applied to option values that arrive as text, such as flags and S3
// metadata headers.
func ParseValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}
