package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/unsent-labs/unsent/internal/models"
	"github.com/unsent-labs/unsent/internal/prompts"
	"github.com/unsent-labs/unsent/internal/store"
)

// Completer is the slice of the language model gateway the engine uses.
type Completer interface {
	Complete(ctx context.Context, instruction, userText, sessionID string) models.CanonicalResult
}

// Resolver renders stage templates.
type Resolver interface {
	Resolve(stage models.Stage, values map[string]string) (*prompts.Resolved, error)
}

// DeliveryOfferer starts the delivery hand-off when the user decides to
// send their message.
type DeliveryOfferer interface {
	Offer(r *models.Reflection) (string, []models.ChoiceOption)
}

// Engine executes the guided-writing state machine. The reflection's
// current stage names the stage that handles the next inbound message:
// prompt stages absorb the answer and present their question, model stages
// interpret the answer, and the preamble decision stage routes between
// delivery and a private close.
type Engine struct {
	store    store.Store
	resolver Resolver
	llm      Completer
	delivery DeliveryOfferer

	ventingWindow time.Duration
	now           func() time.Time
}

// DefaultVentingWindow is how long a venting session can sit idle before
// the next message triggers the off-ramp.
const DefaultVentingWindow = 3 * time.Minute

// EngineOption configures the stage engine.
type EngineOption func(*Engine)

// WithVentingWindow overrides the venting inactivity window.
func WithVentingWindow(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.ventingWindow = d
		}
	}
}

// NewEngine creates a stage engine.
func NewEngine(st store.Store, resolver Resolver, llm Completer, delivery DeliveryOfferer, opts ...EngineOption) *Engine {
	e := &Engine{
		store:         st,
		resolver:      resolver,
		llm:           llm,
		delivery:      delivery,
		ventingWindow: DefaultVentingWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleTurn runs the current stage against the inbound message.
func (e *Engine) HandleTurn(ctx context.Context, r *models.Reflection, req *models.TurnRequest) (*models.TurnResponse, error) {
	stage := r.CurrentStage
	slog.Debug("Engine.HandleTurn", "reflectionID", r.ID, "stage", stage)

	if err := e.saveUser(r.ID, stage, req.Message); err != nil {
		return nil, err
	}

	var (
		resp *models.TurnResponse
		err  error
	)
	switch stage {
	case models.StageContextIntent, models.StageEmotionValidate, models.StageNameValidate, models.StageSynthesis:
		resp, err = e.modelStage(ctx, r, req)
	case models.StagePreambleDecision:
		resp, err = e.decisionStage(r, req)
	default:
		resp, err = e.promptStage(r)
	}
	if resp != nil {
		resp.CurrentStage = models.StagePtr(stage)
		resp.NextStage = models.StagePtr(r.CurrentStage)
	}
	return resp, err
}

// promptStage presents the current stage's question and advances to its
// declared successor. The inbound message is the answer to the previous
// question and has already been saved.
func (e *Engine) promptStage(r *models.Reflection) (*models.TurnResponse, error) {
	text, next, err := e.present(r, r.CurrentStage)
	if err != nil {
		return nil, err
	}
	if err := e.advance(r, next, text); err != nil {
		return nil, err
	}
	return e.respond(r, text), nil
}

// modelStage runs the stage's instruction through the model and routes on
// the extracted fields. A degraded result never advances the stage.
func (e *Engine) modelStage(ctx context.Context, r *models.Reflection, req *models.TurnRequest) (*models.TurnResponse, error) {
	stage := r.CurrentStage
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

	if err := e.applySystem(r, result); err != nil {
		return nil, err
	}

	reply := result.UserResponse.Message
	if reply == "" {
		reply = "Thank you for sharing that with me."
	}

	switch stage {
	case models.StageContextIntent:
		// No usable intent means the description was too thin to
		// classify. Hold at the extraction stage and let the model's
		// clarifying question stand as the whole reply.
		if strings.TrimSpace(result.SystemString("intent")) == "" {
			if err := e.saveAssistant(r.ID, stage, reply); err != nil {
				return nil, err
			}
			return e.respond(r, reply), nil
		}
		if r.FlowType == models.FlowTypeVenting {
			if err := e.advance(r, models.StageVentingSanctuary, reply); err != nil {
				return nil, err
			}
			return e.respond(r, reply), nil
		}
		return e.continueWith(r, reply, models.StageEmotion)

	case models.StageEmotionValidate:
		return e.continueWith(r, reply, models.StageRecipientPrompt)

	case models.StageNameValidate:
		if !result.SystemTrue("is_valid_name") {
			if err := e.saveAssistant(r.ID, stage, reply); err != nil {
				return nil, err
			}
			return e.respond(r, reply), nil
		}
		name := strings.TrimSpace(result.SystemString("name"))
		if name == "" {
			name = strings.TrimSpace(req.Message)
		}
		if err := e.store.UpdateReflectionRecipient(r.ID, name); err != nil {
			return nil, err
		}
		r.ReceiverName = name
		return e.continueWith(r, reply, models.PlaybookStart(r.FlowType))

	case models.StageSynthesis:
		if err := e.store.SetReflectionSummary(r.ID, reply); err != nil {
			return nil, err
		}
		r.Summary = reply
		return e.continueWith(r, reply, models.StagePostSynthesis)
	}

	return nil, fmt.Errorf("stage %d is not a model stage", stage)
}

// decisionStage interprets the send-or-keep answer at the preamble
// decision point.
func (e *Engine) decisionStage(r *models.Reflection, req *models.TurnRequest) (*models.TurnResponse, error) {
	switch e.parseDecision(req) {
	case "send":
		reply, options := e.delivery.Offer(r)
		if err := e.saveAssistant(r.ID, r.CurrentStage, reply); err != nil {
			return nil, err
		}
		resp := e.respond(r, reply)
		resp.Options = options
		return resp, nil

	case "keep":
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

	// Ambiguous answer: re-ask with explicit choices.
	text, _, err := e.present(r, models.StagePreambleDecision)
	if err != nil {
		return nil, err
	}
	if err := e.saveAssistant(r.ID, r.CurrentStage, text); err != nil {
		return nil, err
	}
	resp := e.respond(r, text)
	resp.Options = decisionOptions()
	return resp, nil
}

func (e *Engine) parseDecision(req *models.TurnRequest) string {
	switch req.Choice() {
	case "1":
		return "send"
	case "0":
		return "keep"
	}
	text := strings.ToLower(req.Message)
	switch {
	case strings.Contains(text, "send"):
		return "send"
	case strings.Contains(text, "keep"), strings.Contains(text, "private"), strings.Contains(text, "myself"):
		return "keep"
	}
	return ""
}

// continueWith appends the next stage's question to the model's reply and
// advances past it to its declared successor.
func (e *Engine) continueWith(r *models.Reflection, reply string, next models.Stage) (*models.TurnResponse, error) {
	text, after, err := e.present(r, next)
	if err != nil {
		return nil, err
	}
	combined := reply + "\n\n" + text
	if err := e.advance(r, after, combined); err != nil {
		return nil, err
	}
	return e.respond(r, combined), nil
}

// present renders a stage's template and returns the stage that follows
// it, which is the stage itself when no successor is declared.
func (e *Engine) present(r *models.Reflection, stage models.Stage) (string, models.Stage, error) {
	values, err := e.stageValues(stage, r)
	if err != nil {
		return "", 0, err
	}
	res, err := e.resolver.Resolve(stage, values)
	if err != nil {
		return "", 0, err
	}
	next := stage
	if res.NextStage != nil {
		next = *res.NextStage
	}
	return res.Prompt, next, nil
}

// advance persists the stage transition and the assistant reply at the new
// stage.
func (e *Engine) advance(r *models.Reflection, next models.Stage, reply string) error {
	if next != r.CurrentStage {
		if err := e.store.UpdateReflectionStage(r.ID, next); err != nil {
			return err
		}
		r.CurrentStage = next
	}
	return e.saveAssistant(r.ID, next, reply)
}

// applySystem persists the structured fields a model stage extracted,
// mirroring them onto the in-memory reflection.
func (e *Engine) applySystem(r *models.Reflection, result models.CanonicalResult) error {
	if name := strings.TrimSpace(result.SystemString("recipient_name")); name != "" {
		if err := e.store.UpdateReflectionRecipient(r.ID, name); err != nil {
			return err
		}
		r.ReceiverName = name
	}
	if rel := strings.TrimSpace(result.SystemString("relationship")); rel != "" {
		if err := e.store.SetReflectionRelationship(r.ID, rel); err != nil {
			return err
		}
		r.ReceiverRelationship = rel
	}
	if emotions := strings.TrimSpace(result.SystemString("emotions")); emotions != "" {
		if err := e.store.SetReflectionEmotion(r.ID, emotions); err != nil {
			return err
		}
		r.Emotion = emotions
	}
	// An intent field sets the flow type only while the reflection is at
	// the context-extraction stage. Later model stages can emit stray
	// intent keys that would otherwise reroute the playbook mid-flight.
	if intent := strings.TrimSpace(result.SystemString("intent")); intent != "" && r.CurrentStage == models.StageContextIntent {
		ft := models.FlowType(intent)
		if err := e.store.UpdateReflectionFlowType(r.ID, ft); err != nil {
			return err
		}
		r.FlowType = ft
	}
	return nil
}

func (e *Engine) saveUser(reflectionID uuid.UUID, stage models.Stage, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	return e.store.SaveMessage(models.Message{
		ReflectionID: reflectionID,
		Sender:       models.SenderUser,
		Body:         body,
		Stage:        stage,
		CreatedAt:    e.now().UTC(),
	})
}

func (e *Engine) saveAssistant(reflectionID uuid.UUID, stage models.Stage, body string) error {
	return e.store.SaveMessage(models.Message{
		ReflectionID: reflectionID,
		Sender:       models.SenderAssistant,
		Body:         body,
		Stage:        stage,
		CreatedAt:    e.now().UTC(),
	})
}

// respond builds a successful response reflecting the (possibly already
// advanced) reflection state.
func (e *Engine) respond(r *models.Reflection, reply string) *models.TurnResponse {
	stage := r.CurrentStage
	return &models.TurnResponse{
		Success:      true,
		ReflectionID: r.ID.String(),
		Reply:        reply,
		CurrentStage: models.StagePtr(stage),
	}
}

// decisionOptions are the explicit choices offered when a send-or-keep
// answer could not be read from free text.
func decisionOptions() []models.ChoiceOption {
	return []models.ChoiceOption{
		{Choice: "1", Label: "Send it"},
		{Choice: "0", Label: "Keep it private"},
	}
}
