package flow

import (
	"context"
	"log/slog"

	"github.com/unsent-labs/unsent/internal/models"
)

// Fixed copy used by the venting transitions. These are conversational
// glue, not stage prompts, so they live in code rather than the stage
// table.
const (
	ventingInvite   = "Alright. This space is yours now, no structure, no judgment. Let it out; I'm listening."
	restartInvite   = "Okay, let's take a different approach. Tell me again what's on your mind, in your own words."
	resumeMessage   = "No problem, let's pick back up where we were."
	ventingListenOn = "I'm here. Keep going whenever you're ready."
)

// HandleVenting runs one turn of the venting sanctuary. The model only
// listens and reflects; the sub-flow ends when the user signals they are
// done or the session has sat idle past the venting window, at which point
// the off-ramp is offered.
func (e *Engine) HandleVenting(ctx context.Context, r *models.Reflection, req *models.TurnRequest) (*models.TurnResponse, error) {
	stage := models.StageVentingSanctuary

	// Inactivity is judged against the previous user message, before the
	// current one lands.
	inactive := false
	if last, err := e.store.LastUserMessage(r.ID); err == nil && last != nil {
		inactive = e.now().UTC().Sub(last.CreatedAt) > e.ventingWindow
	}

	if err := e.saveUser(r.ID, stage, req.Message); err != nil {
		return nil, err
	}

	values, err := e.stageValues(stage, r)
	if err != nil {
		return nil, err
	}
	res, err := e.resolver.Resolve(stage, values)
	if err != nil {
		return nil, err
	}

	result := e.llm.Complete(ctx, res.Prompt, req.Message, r.SessionID)
	if result.Degraded {
		if err := e.saveAssistant(r.ID, stage, result.UserResponse.Message); err != nil {
			return nil, err
		}
		resp := e.respond(r, result.UserResponse.Message)
		resp.Success = false
		return resp, nil
	}

	reply := result.UserResponse.Message
	if reply == "" {
		reply = ventingListenOn
	}
	if err := e.saveAssistant(r.ID, stage, reply); err != nil {
		return nil, err
	}

	if result.SystemTrue("done") || inactive {
		slog.Debug("Engine.HandleVenting: offering off-ramp", "reflectionID", r.ID, "inactive", inactive)
		return e.offerOffRamp(r)
	}

	resp := e.respond(r, reply)
	resp.CurrentStage = models.StagePtr(stage)
	resp.NextStage = models.StagePtr(stage)
	return resp, nil
}

// offerOffRamp moves the session to the off-ramp stage and renders its
// choice prompt.
func (e *Engine) offerOffRamp(r *models.Reflection) (*models.TurnResponse, error) {
	text, _, err := e.present(r, models.StageVentingOffRamp)
	if err != nil {
		return nil, err
	}
	if err := e.advance(r, models.StageVentingOffRamp, text); err != nil {
		return nil, err
	}
	resp := e.respond(r, text)
	resp.NextStage = models.StagePtr(models.StageVentingOffRamp)
	resp.Options = offRampOptions()
	return resp, nil
}

// HandleOffRamp interprets the answer to the venting off-ramp.
func (e *Engine) HandleOffRamp(r *models.Reflection, req *models.TurnRequest) (*models.TurnResponse, error) {
	switch req.Choice() {
	case "1":
		return e.showMenu(r)
	case "0":
		return e.closeOut(r)
	}
	// No structured answer: re-offer the choice.
	text, _, err := e.present(r, models.StageVentingOffRamp)
	if err != nil {
		return nil, err
	}
	if err := e.saveAssistant(r.ID, models.StageVentingOffRamp, text); err != nil {
		return nil, err
	}
	resp := e.respond(r, text)
	resp.Options = offRampOptions()
	return resp, nil
}

// ShowMenu moves the session to the re-routing menu and renders it. It is
// also the landing point for stop, restart, and confusion intents.
func (e *Engine) ShowMenu(r *models.Reflection) (*models.TurnResponse, error) {
	return e.showMenu(r)
}

func (e *Engine) showMenu(r *models.Reflection) (*models.TurnResponse, error) {
	text, _, err := e.present(r, models.StageIntentMenu)
	if err != nil {
		return nil, err
	}
	if err := e.advance(r, models.StageIntentMenu, text); err != nil {
		return nil, err
	}
	resp := e.respond(r, text)
	resp.Options = menuOptions()
	return resp, nil
}

// HandleMenu interprets the answer to the re-routing menu.
func (e *Engine) HandleMenu(ctx context.Context, r *models.Reflection, req *models.TurnRequest) (*models.TurnResponse, error) {
	switch req.Choice() {
	case "1":
		if err := e.store.UpdateReflectionFlowType(r.ID, models.FlowTypeVenting); err != nil {
			return nil, err
		}
		r.FlowType = models.FlowTypeVenting
		if err := e.advance(r, models.StageVentingSanctuary, ventingInvite); err != nil {
			return nil, err
		}
		return e.respond(r, ventingInvite), nil

	case "2":
		if err := e.advance(r, models.StageContextIntent, restartInvite); err != nil {
			return nil, err
		}
		return e.respond(r, restartInvite), nil

	case "3":
		previous, err := e.store.PreviousStage(r.ID, 2)
		if err != nil {
			return nil, err
		}
		if err := e.advance(r, previous, resumeMessage); err != nil {
			return nil, err
		}
		return e.respond(r, resumeMessage), nil

	case "0":
		return e.closeOut(r)
	}

	// No structured answer: re-offer the menu.
	text, _, err := e.present(r, models.StageIntentMenu)
	if err != nil {
		return nil, err
	}
	if err := e.saveAssistant(r.ID, models.StageIntentMenu, text); err != nil {
		return nil, err
	}
	resp := e.respond(r, text)
	resp.Options = menuOptions()
	return resp, nil
}

// closeOut ends the reflection without delivery.
func (e *Engine) closeOut(r *models.Reflection) (*models.TurnResponse, error) {
	if err := e.store.UpdateReflectionStatus(r.ID, models.StatusClosed); err != nil {
		return nil, err
	}
	r.IsDelivered = models.StatusClosed
	closing, _, err := e.present(r, models.StageClosing)
	if err != nil {
		return nil, err
	}
	if err := e.advance(r, models.StageClosing, closing); err != nil {
		return nil, err
	}
	return e.respond(r, closing), nil
}

func offRampOptions() []models.ChoiceOption {
	return []models.ChoiceOption{
		{Choice: "1", Label: "Keep going"},
		{Choice: "0", Label: "I'm done for now"},
	}
}

func menuOptions() []models.ChoiceOption {
	return []models.ChoiceOption{
		{Choice: "1", Label: "Just let it out"},
		{Choice: "2", Label: "Try a different approach"},
		{Choice: "3", Label: "Go back a step"},
		{Choice: "0", Label: "Stop for now"},
	}
}
