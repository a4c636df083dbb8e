package genai

import (
	"github.com/unsent-labs/unsent/internal/models"
)

// userMessageKeys are the keys the model has been observed using for the
// user-facing text when it drifts from the requested envelope, in
// preference order.
var userMessageKeys = []string{"reflection", "message", "response", "user_message", "reply", "output"}

// systemFieldKeys are top-level keys that carry structured extraction data
// when the model flattens the envelope.
var systemFieldKeys = []string{
	"recipient_name", "relationship", "emotions", "intent", "context",
	"is_valid_name", "isValidName", "isValid", "name", "names",
	"decision", "confidence", "done", "intensity",
}

// Normalize maps an arbitrary model JSON object onto the canonical
// user/system envelope. Well-formed envelopes pass through; drifted shapes
// are repaired by key hunting so downstream code never sees the variance.
func Normalize(raw map[string]interface{}) models.CanonicalResult {
	result := models.CanonicalResult{SystemResponse: map[string]interface{}{}}

	// Well-formed system_response passes through unchanged.
	if sys, ok := raw["system_response"].(map[string]interface{}); ok {
		result.SystemResponse = sys
	}

	// Well-formed user_response: an object with a message, or a bare string.
	switch ur := raw["user_response"].(type) {
	case map[string]interface{}:
		if msg, ok := ur["message"].(string); ok {
			result.UserResponse.Message = msg
		}
	case string:
		result.UserResponse.Message = ur
	}

	// Hunt for the user message in flattened shapes.
	if result.UserResponse.Message == "" {
		for _, key := range userMessageKeys {
			if msg, ok := raw[key].(string); ok && msg != "" {
				result.UserResponse.Message = msg
				break
			}
		}
	}

	// Collect structured fields the model left at the top level. The
	// nested system_response wins on key collisions.
	for _, key := range systemFieldKeys {
		if _, exists := result.SystemResponse[key]; exists {
			continue
		}
		if v, ok := raw[key]; ok {
			result.SystemResponse[key] = v
		}
	}

	// Fold validity aliases onto the canonical key.
	if _, ok := result.SystemResponse["is_valid_name"]; !ok {
		for _, alias := range []string{"isValidName", "isValid"} {
			if v, ok := result.SystemResponse[alias]; ok {
				result.SystemResponse["is_valid_name"] = v
				break
			}
		}
	}

	return result
}
