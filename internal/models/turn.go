// Package models: inbound turn and outbound response shapes for the API.
package models

// ChoiceOption is a machine-readable choice affordance rendered by the
// caller as a button.
type ChoiceOption struct {
	Choice string `json:"choice"`
	Label  string `json:"label"`
}

// TurnRequest is one inbound user turn. ReflectionID is empty on the first
// turn of a session; Data carries structured choice answers (key/value
// pairs) collected by the caller's UI.
type TurnRequest struct {
	SessionID    string              `json:"session_id"`
	ReflectionID string              `json:"reflection_id,omitempty"`
	Message      string              `json:"message,omitempty"`
	Data         []map[string]string `json:"data,omitempty"`
}

// Choice returns the structured choice answer from the request data, or ""
// when the caller sent free text only.
func (r *TurnRequest) Choice() string {
	for _, entry := range r.Data {
		if c, ok := entry["choice"]; ok {
			return c
		}
	}
	return ""
}

// TurnResponse is the outbound result of processing one turn.
type TurnResponse struct {
	Success      bool           `json:"success"`
	ReflectionID string         `json:"reflection_id,omitempty"`
	Reply        string         `json:"reply,omitempty"`
	CurrentStage *Stage         `json:"current_stage,omitempty"`
	NextStage    *Stage         `json:"next_stage,omitempty"`
	Options      []ChoiceOption `json:"options,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Failure builds an unsuccessful turn response with a plain-language
// message; internal error detail never reaches the caller.
func Failure(reflectionID, reply string) *TurnResponse {
	return &TurnResponse{Success: false, ReflectionID: reflectionID, Reply: reply}
}

// IdentityRequest asks the delivery sequencer to record the identity
// reveal decision.
type IdentityRequest struct {
	ReflectionID string `json:"reflection_id"`
	Reveal       bool   `json:"reveal"`
	Name         string `json:"name,omitempty"`
}

// ModeRequest asks the delivery sequencer to record the channel decision
// and dispatch.
type ModeRequest struct {
	ReflectionID   string       `json:"reflection_id"`
	Mode           DeliveryMode `json:"mode"`
	RecipientEmail string       `json:"recipient_email,omitempty"`
	RecipientPhone string       `json:"recipient_phone,omitempty"`
}

// ThirdPartyRequest asks the sequencer to send the summary to a
// third-party email address.
type ThirdPartyRequest struct {
	ReflectionID string `json:"reflection_id"`
	Email        string `json:"email"`
}
