// Package models defines the core data structures for Unsent.
//
// It includes the reflection session, dialogue messages, stage definitions,
// and shared enums used across modules.
package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Stage identifies a step in the guided-writing state machine. The numeric
// values are wire-compatible identifiers shared with stored stage
// definitions; successors are declared per stage, never assumed to be
// stage+1.
type Stage int

// Stage constants. Playbook ranges: feedback 6-8, apology 9-12,
// gratitude 13-15.
const (
	StageWelcome          Stage = 0
	StageContextIntent    Stage = 1
	StageEmotion          Stage = 2
	StageEmotionValidate  Stage = 3
	StageRecipientPrompt  Stage = 4
	StageNameValidate     Stage = 5
	StageFeedbackStart    Stage = 6
	StageApologyStart     Stage = 9
	StageGratitudeStart   Stage = 13
	StageSynthesis        Stage = 16
	StagePostSynthesis    Stage = 17
	StageRevealPreamble   Stage = 18
	StagePreambleDecision Stage = 19
	StageClosing          Stage = 20
	StageIntentClassifier Stage = 21
	StageIntensityCheck   Stage = 22
	StageSafetyCheck      Stage = 23
	StageVentingSanctuary Stage = 24
	StageVentingOffRamp   Stage = 25
	StageIntentMenu       Stage = 26
)

// FlowType tags a reflection with its active playbook, or the venting
// sub-flow. Empty means the intent has not been extracted yet.
type FlowType string

const (
	FlowTypeVenting   FlowType = "venting"
	FlowTypeFeedback  FlowType = "feedback_sbi"
	FlowTypeApology   FlowType = "apology_4a"
	FlowTypeGratitude FlowType = "gratitude_aif"
)

// PlaybookStart returns the first stage of the playbook selected by the
// flow type. Unknown flow types fall back to emotion elicitation.
func PlaybookStart(ft FlowType) Stage {
	switch ft {
	case FlowTypeFeedback:
		return StageFeedbackStart
	case FlowTypeApology:
		return StageApologyStart
	case FlowTypeGratitude:
		return StageGratitudeStart
	default:
		return StageEmotion
	}
}

// Audience declares who a stage template is addressed to.
type Audience int

const (
	// AudienceUser templates are rendered directly to the end user.
	AudienceUser Audience = 0
	// AudienceModel templates are instructions for the language model.
	AudienceModel Audience = 1
)

// DeliveryStatus tracks the terminal state of a reflection.
type DeliveryStatus int

const (
	// StatusInProgress is the default state of an active reflection.
	StatusInProgress DeliveryStatus = 0
	// StatusDelivered means the summary was dispatched on at least one channel.
	StatusDelivered DeliveryStatus = 1
	// StatusLocked means the reflection was locked by the safety pipeline.
	StatusLocked DeliveryStatus = 2
	// StatusClosed means the reflection completed without delivery.
	StatusClosed DeliveryStatus = 3
)

// DeliveryMode enumerates the channel choice made during delivery.
type DeliveryMode int

const (
	ModeEmail           DeliveryMode = 0
	ModeWhatsApp        DeliveryMode = 1
	ModeBoth            DeliveryMode = 2
	ModePrivate         DeliveryMode = 3
	ModeThirdPartyEmail DeliveryMode = 4
)

// IsValidDeliveryMode reports whether the mode is one the sequencer accepts
// from a channel-choice request. Third-party email has its own endpoint.
func IsValidDeliveryMode(m DeliveryMode) bool {
	switch m {
	case ModeEmail, ModeWhatsApp, ModeBoth, ModePrivate:
		return true
	default:
		return false
	}
}

// SenderRole identifies who produced a dialogue message.
type SenderRole int

const (
	SenderUser      SenderRole = 0
	SenderAssistant SenderRole = 1
)

// Intent is the output of the global re-routing intent classifier.
type Intent string

const (
	IntentStop        Intent = "INTENT_STOP"
	IntentRestart     Intent = "INTENT_RESTART"
	IntentConfused    Intent = "INTENT_CONFUSED"
	IntentSkipToDraft Intent = "INTENT_SKIP_TO_DRAFT"
	IntentNoOverride  Intent = "NO_OVERRIDE"
)

// ParseIntent maps a raw classifier label to a known intent. Anything
// unrecognized is treated as no override so the ordinary flow proceeds.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentStop, IntentRestart, IntentConfused, IntentSkipToDraft:
		return Intent(s)
	default:
		return IntentNoOverride
	}
}

// Error variables shared across modules.
var (
	ErrReflectionNotFound  = errors.New("reflection not found")
	ErrStageNotFound       = errors.New("stage definition not found")
	ErrNoSummary           = errors.New("no summary available for delivery")
	ErrMissingContact      = errors.New("required recipient contact is missing")
	ErrInvalidEmail        = errors.New("invalid email address format")
	ErrInvalidDeliveryMode = errors.New("invalid delivery mode")
	ErrIdentityUndecided   = errors.New("identity decision pending")
)

// Reflection is one guided-writing session. It is created at stage 0,
// mutated only by the stage engine, venting sub-flow, and delivery
// sequencer, and never deleted; terminal states are expressed through
// IsDelivered.
type Reflection struct {
	ID                   uuid.UUID      `json:"reflection_id"`
	SessionID            string         `json:"session_id"`
	FlowType             FlowType       `json:"flow_type,omitempty"`
	CurrentStage         Stage          `json:"current_stage"`
	Emotion              string         `json:"emotion,omitempty"`
	ReceiverName         string         `json:"receiver_name,omitempty"`
	ReceiverRelationship string         `json:"receiver_relationship,omitempty"`
	ReceiverUserID       *uuid.UUID     `json:"receiver_user_id,omitempty"`
	ContextSummary       string         `json:"context_summary,omitempty"`
	Summary              string         `json:"summary,omitempty"`
	IsDelivered          DeliveryStatus `json:"is_delivered"`
	IsAnonymous          *bool          `json:"is_anonymous,omitempty"`
	SenderName           string         `json:"sender_name,omitempty"`
	DeliveryMode         *DeliveryMode  `json:"delivery_mode,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// IdentityDecided reports whether the identity reveal decision has been made.
func (r *Reflection) IdentityDecided() bool {
	return r.IsAnonymous != nil
}

// Message is one turn of dialogue, owned by exactly one reflection.
// Messages are append-only; creation time gives the total order used to
// reconstruct conversation context.
type Message struct {
	ID           uuid.UUID  `json:"msg_id"`
	ReflectionID uuid.UUID  `json:"reflection_id"`
	Sender       SenderRole `json:"sender"`
	Body         string     `json:"body"`
	Stage        Stage      `json:"stage"`
	IsDistress   bool       `json:"is_distress,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// StageDefinition describes one stage of the state machine. Definitions are
// read-only to the dialogue core; NextStage is nil at branch stages where
// the engine decides the successor dynamically.
type StageDefinition struct {
	StageID   Stage    `json:"stage_id"`
	Name      string   `json:"name"`
	FlowType  FlowType `json:"flow_type,omitempty"`
	IsStatic  bool     `json:"is_static"`
	Audience  Audience `json:"audience"`
	Template  string   `json:"template"`
	NextStage *Stage   `json:"next_stage,omitempty"`
}

// User is a minimal contact record for senders and recipients. Recipients
// are created or linked at delivery time so a reflection can land in an
// inbox later.
type User struct {
	ID        uuid.UUID `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StagePtr returns a pointer to the given stage, for nullable successors.
func StagePtr(s Stage) *Stage {
	return &s
}

// BoolPtr returns a pointer to the given bool, for tri-state fields.
func BoolPtr(b bool) *bool {
	return &b
}

// ModePtr returns a pointer to the given delivery mode.
func ModePtr(m DeliveryMode) *DeliveryMode {
	return &m
}
