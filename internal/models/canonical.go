// Package models: the canonical language-model result shape.
package models

import "strconv"

// UserResponse is the user-facing half of a canonical result.
type UserResponse struct {
	Message string `json:"message"`
}

// CanonicalResult is the normalized two-part shape every language-model
// call is reduced to before any caller inspects it. SystemResponse carries
// stage-specific extracted fields; Degraded marks results synthesized after
// a provider failure, in which case the stage engine must not advance.
type CanonicalResult struct {
	UserResponse   UserResponse   `json:"user_response"`
	SystemResponse map[string]any `json:"system_response"`
	Degraded       bool           `json:"-"`
}

// SystemString returns the named system field as a string, tolerating
// non-string JSON scalars. Missing fields return "".
func (c CanonicalResult) SystemString(key string) string {
	v, ok := c.SystemResponse[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case float64:
		// JSON numbers decode as float64; stage payloads only use small ints.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return ""
	default:
		return ""
	}
}

// SystemTrue reports whether the named field reads as an affirmative,
// accepting booleans, "yes", "true", and the numeric 1 that some model
// outputs use for done flags.
func (c CanonicalResult) SystemTrue(key string) bool {
	v, ok := c.SystemResponse[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "yes" || t == "true" || t == "1"
	case float64:
		return t == 1
	default:
		return false
	}
}

