package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/unsent-labs/unsent/internal/classify"
	"github.com/unsent-labs/unsent/internal/models"
	"github.com/unsent-labs/unsent/internal/store"
)

// SeverityChecker screens inbound messages for distress.
type SeverityChecker interface {
	Check(ctx context.Context, message string) classify.Severity
}

// IntentDecider classifies re-routing intents and grades intensity.
type IntentDecider interface {
	Decide(ctx context.Context, message, sessionID string) models.Intent
	Intensity(ctx context.Context, message, sessionID string) string
}

// User-facing copy for the orchestration paths that never reach a stage.
const (
	busyMessage       = "I'm still working on your last message. Give me just a moment."
	crisisMessage     = "For immediate support, please reach out to a crisis hotline."
	errorMessage      = "An unexpected error occurred. Please try again."
	invalidIDMessage  = "Invalid reflection ID format."
	notFoundMessage   = "Reflection not found."
	welcomeBackPrompt = "Welcome back. You have a reflection in progress; would you like to continue where you left off?"
)

// Orchestrator sequences the interrupt classifiers ahead of the stage
// engine for every inbound turn. Priority order: session lock, initial
// flow, severity screen, answered choice stages, global intent, the
// venting sanctuary, and finally the stage engine.
type Orchestrator struct {
	store    store.Store
	engine   *Engine
	severity SeverityChecker
	intents  IntentDecider
	locks    *SessionLocks
}

// NewOrchestrator wires the turn pipeline.
func NewOrchestrator(st store.Store, engine *Engine, severity SeverityChecker, intents IntentDecider, locks *SessionLocks) *Orchestrator {
	if locks == nil {
		locks = NewSessionLocks(0)
	}
	return &Orchestrator{store: st, engine: engine, severity: severity, intents: intents, locks: locks}
}

// ProcessTurn handles one inbound turn end to end. It always returns a
// response; internal errors surface as a generic failure message and are
// logged, never shown.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req *models.TurnRequest) *models.TurnResponse {
	if req.SessionID == "" {
		return models.Failure("", "A session is required.")
	}
	if !o.locks.Acquire(req.SessionID) {
		return models.Failure(req.ReflectionID, busyMessage)
	}
	defer o.locks.Release(req.SessionID)

	resp, err := o.process(ctx, req)
	if err != nil {
		slog.Error("Orchestrator.ProcessTurn failed", "error", err, "sessionID", req.SessionID)
		return models.Failure(req.ReflectionID, errorMessage)
	}
	return resp
}

func (o *Orchestrator) process(ctx context.Context, req *models.TurnRequest) (*models.TurnResponse, error) {
	if req.ReflectionID == "" {
		return o.initialFlow(ctx, req)
	}

	id, err := uuid.Parse(req.ReflectionID)
	if err != nil {
		return models.Failure(req.ReflectionID, invalidIDMessage), nil
	}
	r, err := o.store.GetReflection(id)
	if errors.Is(err, models.ErrReflectionNotFound) {
		return models.Failure(req.ReflectionID, notFoundMessage), nil
	}
	if err != nil {
		return nil, err
	}

	if resp, err := o.severityCheck(ctx, r, req); resp != nil || err != nil {
		return resp, err
	}
	return o.route(ctx, r, req)
}

// severityCheck runs the safety screen. A nil response means the turn
// proceeds.
func (o *Orchestrator) severityCheck(ctx context.Context, r *models.Reflection, req *models.TurnRequest) (*models.TurnResponse, error) {
	switch o.severity.Check(ctx, req.Message) {
	case classify.SeverityCritical:
		if err := o.store.UpdateReflectionStatus(r.ID, models.StatusLocked); err != nil {
			return nil, err
		}
		if err := o.store.SaveMessage(models.Message{
			ReflectionID: r.ID,
			Sender:       models.SenderUser,
			Body:         req.Message,
			Stage:        r.CurrentStage,
			IsDistress:   true,
		}); err != nil {
			return nil, err
		}
		slog.Warn("Orchestrator: session locked by safety screen", "reflectionID", r.ID)
		resp := models.Failure(r.ID.String(), crisisMessage)
		resp.Data = map[string]any{"distress_level": "critical"}
		return resp, nil

	case classify.SeverityWarning:
		intensity := o.intents.Intensity(ctx, req.Message, req.SessionID)
		if intensity == "high" || intensity == "elevated" {
			text, _, err := o.engine.present(r, models.StageSafetyCheck)
			if err != nil {
				return nil, err
			}
			resp := o.engine.respond(r, text)
			return resp, nil
		}
	}
	return nil, nil
}

// route applies the remaining pipeline order after the safety screen.
func (o *Orchestrator) route(ctx context.Context, r *models.Reflection, req *models.TurnRequest) (*models.TurnResponse, error) {
	// Choice stages bypass intent classification entirely: the turn is
	// the answer to the offered menu, whether it arrives as a structured
	// choice or as free text the handler re-asks over.
	switch r.CurrentStage {
	case models.StageVentingOffRamp:
		return o.engine.HandleOffRamp(r, req)
	case models.StageIntentMenu:
		return o.engine.HandleMenu(ctx, r, req)
	}

	switch o.intents.Decide(ctx, req.Message, req.SessionID) {
	case models.IntentStop:
		if r.FlowType == models.FlowTypeVenting {
			return o.engine.offerOffRamp(r)
		}
		return o.engine.ShowMenu(r)
	case models.IntentRestart, models.IntentConfused:
		return o.engine.ShowMenu(r)
	case models.IntentSkipToDraft:
		if err := o.store.UpdateReflectionStage(r.ID, models.StageSynthesis); err != nil {
			return nil, err
		}
		r.CurrentStage = models.StageSynthesis
	}

	if r.FlowType == models.FlowTypeVenting && r.CurrentStage == models.StageVentingSanctuary {
		return o.engine.HandleVenting(ctx, r, req)
	}

	return o.engine.HandleTurn(ctx, r, req)
}

// initialFlow handles turns that arrive without a reflection: resume the
// session's active reflection, or start a fresh one when none is active.
func (o *Orchestrator) initialFlow(ctx context.Context, req *models.TurnRequest) (*models.TurnResponse, error) {
	latest, err := o.store.LatestReflectionBySession(req.SessionID)
	if errors.Is(err, models.ErrReflectionNotFound) {
		return o.newReflection(req)
	}
	if err != nil {
		return nil, err
	}
	if latest.IsDelivered != models.StatusInProgress {
		return o.newReflection(req)
	}

	switch req.Choice() {
	case "1":
		return o.route(ctx, latest, req)
	case "0":
		return o.newReflection(req)
	}

	resp := &models.TurnResponse{
		Success:      true,
		ReflectionID: latest.ID.String(),
		Reply:        welcomeBackPrompt,
		CurrentStage: models.StagePtr(latest.CurrentStage),
		Options: []models.ChoiceOption{
			{Choice: "1", Label: "Yes, continue"},
			{Choice: "0", Label: "Start fresh"},
		},
	}
	return resp, nil
}

// newReflection creates a reflection at the welcome stage and renders the
// welcome prompt.
func (o *Orchestrator) newReflection(req *models.TurnRequest) (*models.TurnResponse, error) {
	r, err := o.store.CreateReflection(req.SessionID)
	if err != nil {
		return nil, err
	}
	text, next, err := o.engine.present(r, models.StageWelcome)
	if err != nil {
		return nil, err
	}
	if err := o.engine.advance(r, next, text); err != nil {
		return nil, err
	}
	resp := o.engine.respond(r, text)
	resp.CurrentStage = models.StagePtr(models.StageWelcome)
	resp.NextStage = models.StagePtr(r.CurrentStage)
	return resp, nil
}
