package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/unsent-labs/unsent/internal/classify"
	"github.com/unsent-labs/unsent/internal/models"
	"github.com/unsent-labs/unsent/internal/prompts"
	"github.com/unsent-labs/unsent/internal/store"
)

// scriptedLLM pops canned results in order; once the script is exhausted
// it echoes a plain acknowledgement.
type scriptedLLM struct {
	queue []models.CanonicalResult
}

func (s *scriptedLLM) push(message string, system map[string]any) {
	s.queue = append(s.queue, models.CanonicalResult{
		UserResponse:   models.UserResponse{Message: message},
		SystemResponse: system,
	})
}

func (s *scriptedLLM) Complete(ctx context.Context, instruction, userText, sessionID string) models.CanonicalResult {
	if len(s.queue) == 0 {
		return models.CanonicalResult{
			UserResponse:   models.UserResponse{Message: "I hear you."},
			SystemResponse: map[string]any{},
		}
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	return next
}

type stubSeverity struct {
	level classify.Severity
}

func (s *stubSeverity) Check(ctx context.Context, message string) classify.Severity {
	return s.level
}

type stubIntents struct {
	intent    models.Intent
	intensity string
}

func (s *stubIntents) Decide(ctx context.Context, message, sessionID string) models.Intent {
	return s.intent
}

func (s *stubIntents) Intensity(ctx context.Context, message, sessionID string) string {
	if s.intensity == "" {
		return "low"
	}
	return s.intensity
}

type stubDelivery struct {
	offered bool
}

func (s *stubDelivery) Offer(r *models.Reflection) (string, []models.ChoiceOption) {
	s.offered = true
	return "Before it goes, would you like to sign it with your name, or send it anonymously?",
		[]models.ChoiceOption{{Choice: "1", Label: "Sign it"}, {Choice: "0", Label: "Anonymously"}}
}

type fixture struct {
	store    store.Store
	llm      *scriptedLLM
	severity *stubSeverity
	intents  *stubIntents
	delivery *stubDelivery
	engine   *Engine
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := prompts.EnsureSeed(st); err != nil {
		t.Fatalf("EnsureSeed failed: %v", err)
	}
	f := &fixture{
		store:    st,
		llm:      &scriptedLLM{},
		severity: &stubSeverity{level: classify.SeverityNone},
		intents:  &stubIntents{intent: models.IntentNoOverride},
		delivery: &stubDelivery{},
	}
	f.engine = NewEngine(st, prompts.NewResolver(st), f.llm, f.delivery)
	f.orch = NewOrchestrator(st, f.engine, f.severity, f.intents, NewSessionLocks(0))
	return f
}

func (f *fixture) turn(t *testing.T, req *models.TurnRequest) *models.TurnResponse {
	t.Helper()
	resp := f.orch.ProcessTurn(context.Background(), req)
	if resp == nil {
		t.Fatal("nil turn response")
	}
	return resp
}

func (f *fixture) reflection(t *testing.T, id string) *models.Reflection {
	t.Helper()
	r, err := f.store.LatestReflectionBySession("s1")
	if err != nil {
		t.Fatalf("failed to load reflection: %v", err)
	}
	if id != "" && r.ID.String() != id {
		t.Fatalf("unexpected reflection: got %s, want %s", r.ID, id)
	}
	return r
}

func choiceReq(sessionID, reflectionID, choice string) *models.TurnRequest {
	return &models.TurnRequest{
		SessionID:    sessionID,
		ReflectionID: reflectionID,
		Message:      choice,
		Data:         []map[string]string{{"choice": choice}},
	}
}

func TestGuidedApologyPath(t *testing.T) {
	f := newFixture(t)

	// First contact: a fresh reflection and the welcome prompt.
	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hello"})
	if !resp.Success || resp.ReflectionID == "" {
		t.Fatalf("welcome turn failed: %+v", resp)
	}
	if !strings.Contains(resp.Reply, "welcome to Unsent") {
		t.Errorf("welcome reply = %q", resp.Reply)
	}
	rid := resp.ReflectionID
	if r := f.reflection(t, rid); r.CurrentStage != models.StageContextIntent {
		t.Fatalf("stage after welcome = %d, want %d", r.CurrentStage, models.StageContextIntent)
	}

	// The opening description is classified as an apology.
	f.llm.push("That sounds like it's been weighing on you.", map[string]any{
		"intent":       "apology_4a",
		"relationship": "sister",
	})
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "I said something cruel to my sister and never apologized"})
	if !strings.Contains(resp.Reply, "weighing on you") || !strings.Contains(resp.Reply, "emotions come up") {
		t.Errorf("intent turn should combine acknowledgement and emotion question, got %q", resp.Reply)
	}
	r := f.reflection(t, rid)
	if r.FlowType != models.FlowTypeApology {
		t.Errorf("flow type = %q, want apology_4a", r.FlowType)
	}
	if r.ReceiverRelationship != "sister" {
		t.Errorf("relationship = %q, want sister", r.ReceiverRelationship)
	}
	if r.CurrentStage != models.StageEmotionValidate {
		t.Fatalf("stage = %d, want %d", r.CurrentStage, models.StageEmotionValidate)
	}

	// Emotions are validated, then the recipient question follows.
	f.llm.push("Guilt and regret make sense here.", map[string]any{"emotions": "guilt, regret"})
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "guilty, mostly, and some regret"})
	if !strings.Contains(resp.Reply, "Who is this message for") {
		t.Errorf("expected recipient question, got %q", resp.Reply)
	}
	r = f.reflection(t, rid)
	if r.Emotion != "guilt, regret" {
		t.Errorf("emotion = %q", r.Emotion)
	}
	if r.CurrentStage != models.StageNameValidate {
		t.Fatalf("stage = %d, want %d", r.CurrentStage, models.StageNameValidate)
	}

	// An invalid name keeps the stage gated.
	f.llm.push("Could you share who this is for?", map[string]any{"is_valid_name": false})
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "idk"})
	if f.reflection(t, rid).CurrentStage != models.StageNameValidate {
		t.Fatal("invalid name advanced the gated stage")
	}

	// A valid name opens the apology playbook.
	f.llm.push("Priya it is.", map[string]any{"is_valid_name": true, "name": "Priya"})
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "Priya"})
	r = f.reflection(t, rid)
	if r.ReceiverName != "Priya" {
		t.Errorf("recipient = %q, want Priya", r.ReceiverName)
	}
	if r.CurrentStage != models.StageApologyStart+1 {
		t.Fatalf("stage = %d, want %d", r.CurrentStage, models.StageApologyStart+1)
	}
	if !strings.Contains(resp.Reply, "what you want to apologize for") && !strings.Contains(resp.Reply, "apologize") {
		t.Errorf("expected first apology question, got %q", resp.Reply)
	}

	// The remaining playbook questions are presented one per turn.
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "I mocked her in front of our friends"})
	if f.reflection(t, rid).CurrentStage != models.StageApologyStart+2 {
		t.Fatal("second apology question did not advance")
	}
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "she must have felt humiliated"})
	if f.reflection(t, rid).CurrentStage != models.StageApologyStart+3 {
		t.Fatal("third apology question did not advance")
	}
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "I'd own it plainly and not make excuses"})
	if f.reflection(t, rid).CurrentStage != models.StageSynthesis {
		t.Fatal("final playbook answer should land on synthesis")
	}

	// Synthesis drafts the message and chains into the reveal preamble.
	f.llm.push("Priya, I'm sorry for what I said that night. It was cruel and you deserved better.", map[string]any{})
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "to be heard, mostly"})
	r = f.reflection(t, rid)
	if r.Summary == "" || !strings.Contains(r.Summary, "I'm sorry") {
		t.Errorf("summary not captured: %q", r.Summary)
	}
	if r.CurrentStage != models.StageRevealPreamble {
		t.Fatalf("stage after synthesis = %d, want %d", r.CurrentStage, models.StageRevealPreamble)
	}
	if !strings.Contains(resp.Reply, "read it") {
		t.Errorf("expected post-synthesis note, got %q", resp.Reply)
	}

	// Acknowledging moves through the preamble to the decision point.
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "okay, I've read it"})
	if f.reflection(t, rid).CurrentStage != models.StagePreambleDecision {
		t.Fatal("preamble did not land on the decision stage")
	}
	if !strings.Contains(resp.Reply, "Priya") {
		t.Errorf("preamble should name the recipient, got %q", resp.Reply)
	}

	// Keeping it private closes the reflection without delivery.
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "I'd like to keep it private"})
	r = f.reflection(t, rid)
	if r.IsDelivered != models.StatusClosed {
		t.Errorf("status = %d, want closed", r.IsDelivered)
	}
	if !strings.Contains(resp.Reply, "Thank you for trusting") {
		t.Errorf("expected closing message, got %q", resp.Reply)
	}
	if f.delivery.offered {
		t.Error("delivery offered despite keep-private decision")
	}
}

func TestSendDecisionOffersDelivery(t *testing.T) {
	f := newFixture(t)
	r, _ := f.store.CreateReflection("s1")
	f.store.UpdateReflectionStage(r.ID, models.StagePreambleDecision)
	f.store.UpdateReflectionRecipient(r.ID, "Maya")

	resp := f.turn(t, choiceReq("s1", r.ID.String(), "1"))
	if !f.delivery.offered {
		t.Fatal("send decision did not start the delivery hand-off")
	}
	if !strings.Contains(resp.Reply, "sign it") {
		t.Errorf("expected identity offer, got %q", resp.Reply)
	}
	got := f.reflection(t, r.ID.String())
	if got.IsDelivered != models.StatusInProgress {
		t.Errorf("status = %d, want in progress until dispatch", got.IsDelivered)
	}
}

func TestVentingFlowWithDoneSignal(t *testing.T) {
	f := newFixture(t)

	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hi"})
	rid := resp.ReflectionID

	// The opening description routes straight into the sanctuary.
	f.llm.push("That's a lot to carry.", map[string]any{"intent": "venting"})
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "I just need to get this out of my head"})
	r := f.reflection(t, rid)
	if r.FlowType != models.FlowTypeVenting || r.CurrentStage != models.StageVentingSanctuary {
		t.Fatalf("venting routing: flow=%q stage=%d", r.FlowType, r.CurrentStage)
	}

	// Sanctuary turns reflect without advancing.
	f.llm.push("That sounds exhausting.", map[string]any{"done": false})
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "every day it's the same thing"})
	if f.reflection(t, rid).CurrentStage != models.StageVentingSanctuary {
		t.Fatal("sanctuary advanced without a done signal")
	}

	// The done signal triggers the off-ramp.
	f.llm.push("It sounds like you've said what you needed to.", map[string]any{"done": true})
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "that's everything, I think"})
	if f.reflection(t, rid).CurrentStage != models.StageVentingOffRamp {
		t.Fatal("done signal did not offer the off-ramp")
	}
	if len(resp.Options) != 2 {
		t.Errorf("off-ramp options = %v", resp.Options)
	}

	// Stopping closes the reflection.
	resp = f.turn(t, choiceReq("s1", rid, "0"))
	r = f.reflection(t, rid)
	if r.IsDelivered != models.StatusClosed {
		t.Errorf("status = %d, want closed", r.IsDelivered)
	}
	if !strings.Contains(resp.Reply, "Thank you for trusting") {
		t.Errorf("expected closing, got %q", resp.Reply)
	}
}

func TestVentingInactivityWindow(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return base }

	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hi"})
	rid := resp.ReflectionID
	f.llm.push("I'm listening.", map[string]any{"intent": "venting"})
	f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "so much to let out"})

	f.llm.push("Go on.", map[string]any{"done": false})
	f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "first thing"})
	if f.reflection(t, rid).CurrentStage != models.StageVentingSanctuary {
		t.Fatal("sanctuary should continue while active")
	}

	// A message after the window must trigger the off-ramp even without a
	// done signal; the gap is measured against the previous message, not
	// the one just saved.
	f.engine.now = func() time.Time { return base.Add(4 * time.Minute) }
	f.llm.push("Still here.", map[string]any{"done": false})
	f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "sorry, I stepped away"})
	if f.reflection(t, rid).CurrentStage != models.StageVentingOffRamp {
		t.Fatal("inactivity did not trigger the off-ramp")
	}
}

func TestCriticalSeverityLocksSession(t *testing.T) {
	f := newFixture(t)
	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hi"})
	rid := resp.ReflectionID

	f.severity.level = classify.SeverityCritical
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "it's all too much"})
	if resp.Success {
		t.Error("critical severity turn reported success")
	}
	if resp.Reply != crisisMessage {
		t.Errorf("reply = %q, want crisis message", resp.Reply)
	}
	if resp.Data["distress_level"] != "critical" {
		t.Errorf("data = %v", resp.Data)
	}
	r := f.reflection(t, rid)
	if r.IsDelivered != models.StatusLocked {
		t.Errorf("status = %d, want locked", r.IsDelivered)
	}

	// The locked reflection is terminal: the next contact starts fresh.
	f.severity.level = classify.SeverityNone
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hello again"})
	if resp.ReflectionID == rid {
		t.Error("locked reflection was resumed")
	}
}

func TestWarningSeverityIntensityPath(t *testing.T) {
	f := newFixture(t)
	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hi"})
	rid := resp.ReflectionID
	before := f.reflection(t, rid).CurrentStage

	f.severity.level = classify.SeverityWarning
	f.intents.intensity = "high"
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "I can barely hold it together"})
	if !resp.Success {
		t.Error("warning path should not fail the turn")
	}
	if !strings.Contains(resp.Reply, "real weight") {
		t.Errorf("expected safety check message, got %q", resp.Reply)
	}
	if f.reflection(t, rid).CurrentStage != before {
		t.Error("warning path advanced the stage")
	}

	// Low intensity lets the turn proceed normally.
	f.intents.intensity = "low"
	f.llm.push("Noted.", map[string]any{"intent": "feedback_sbi"})
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "my manager keeps undermining me"})
	if !strings.Contains(resp.Reply, "emotions come up") {
		t.Errorf("normal flow did not continue after low intensity: %q", resp.Reply)
	}
}

func TestGlobalIntentMenu(t *testing.T) {
	f := newFixture(t)
	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hi"})
	rid := resp.ReflectionID

	f.intents.intent = models.IntentConfused
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "wait, what is happening"})
	if f.reflection(t, rid).CurrentStage != models.StageIntentMenu {
		t.Fatal("confusion did not show the menu")
	}
	if len(resp.Options) != 4 {
		t.Errorf("menu options = %v", resp.Options)
	}

	// Choosing to vent from the menu enters the sanctuary.
	f.intents.intent = models.IntentNoOverride
	resp = f.turn(t, choiceReq("s1", rid, "1"))
	r := f.reflection(t, rid)
	if r.FlowType != models.FlowTypeVenting || r.CurrentStage != models.StageVentingSanctuary {
		t.Errorf("menu venting choice: flow=%q stage=%d", r.FlowType, r.CurrentStage)
	}
}

func TestSkipToDraft(t *testing.T) {
	f := newFixture(t)
	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hi"})
	rid := resp.ReflectionID

	// Work partway through, then jump.
	f.llm.push("Understood.", map[string]any{"intent": "gratitude_aif"})
	f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "I want to thank my old coach"})

	f.intents.intent = models.IntentSkipToDraft
	f.llm.push("Coach, thank you for everything you gave me.", map[string]any{})
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "just write it already"})
	r := f.reflection(t, rid)
	if r.Summary == "" {
		t.Error("skip to draft did not synthesize")
	}
	if r.CurrentStage != models.StageRevealPreamble {
		t.Errorf("stage = %d, want %d", r.CurrentStage, models.StageRevealPreamble)
	}
}

func TestDegradedModelResultDoesNotAdvance(t *testing.T) {
	f := newFixture(t)
	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hi"})
	rid := resp.ReflectionID

	f.llm.queue = append(f.llm.queue, models.CanonicalResult{
		UserResponse:   models.UserResponse{Message: "I'm sorry, I seem to be having technical difficulties. Please try again in a moment."},
		SystemResponse: map[string]any{"error": "timeout"},
		Degraded:       true,
	})
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "something happened with my father"})
	if resp.Success {
		t.Error("degraded turn reported success")
	}
	if f.reflection(t, rid).CurrentStage != models.StageContextIntent {
		t.Error("degraded turn advanced the stage")
	}
}

func TestNullIntentHoldsExtractionStage(t *testing.T) {
	f := newFixture(t)
	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hi"})
	rid := resp.ReflectionID

	// A description too thin to classify re-asks without advancing.
	f.llm.push("Could you tell me a little more about what's on your mind?", map[string]any{"intent": nil})
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "not sure yet"})
	if !strings.Contains(resp.Reply, "a little more") {
		t.Errorf("expected the clarifying question alone, got %q", resp.Reply)
	}
	if f.reflection(t, rid).CurrentStage != models.StageContextIntent {
		t.Fatalf("stage = %d, want %d", f.reflection(t, rid).CurrentStage, models.StageContextIntent)
	}

	// A classifiable follow-up proceeds normally.
	f.llm.push("That makes sense.", map[string]any{"intent": "apology_4a"})
	f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "I hurt my brother and never said sorry"})
	r := f.reflection(t, rid)
	if r.FlowType != models.FlowTypeApology {
		t.Errorf("flow type = %q, want apology_4a", r.FlowType)
	}
	if r.CurrentStage != models.StageEmotionValidate {
		t.Fatalf("stage = %d, want %d", r.CurrentStage, models.StageEmotionValidate)
	}
}

func TestStrayIntentAtLaterStageKeepsFlowType(t *testing.T) {
	f := newFixture(t)
	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hi"})
	rid := resp.ReflectionID

	f.llm.push("Understood.", map[string]any{"intent": "apology_4a"})
	f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "I owe my sister an apology"})
	f.llm.push("Guilt makes sense.", map[string]any{"emotions": "guilt"})
	f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "guilty, mostly"})

	// A drifting name-validation result carrying an intent key must not
	// reroute the playbook.
	f.llm.push("Priya it is.", map[string]any{"is_valid_name": true, "name": "Priya", "intent": "venting"})
	f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "Priya"})
	r := f.reflection(t, rid)
	if r.FlowType != models.FlowTypeApology {
		t.Errorf("flow type = %q, want apology_4a", r.FlowType)
	}
	if r.CurrentStage != models.StageApologyStart+1 {
		t.Errorf("stage = %d, want %d", r.CurrentStage, models.StageApologyStart+1)
	}
}

func TestMenuPromptMatchesItsChoices(t *testing.T) {
	f := newFixture(t)
	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hi"})
	rid := resp.ReflectionID

	f.intents.intent = models.IntentConfused
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "wait, what is happening"})
	if len(resp.Options) != 4 {
		t.Fatalf("menu options = %v", resp.Options)
	}
	for _, opt := range resp.Options {
		line := opt.Choice + ". " + opt.Label
		if !strings.Contains(resp.Reply, line) {
			t.Errorf("menu prompt missing %q:\n%s", line, resp.Reply)
		}
	}
}

func TestOffRampFreeTextSkipsIntentClassification(t *testing.T) {
	f := newFixture(t)
	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hi"})
	rid := resp.ReflectionID
	f.llm.push("I'm listening.", map[string]any{"intent": "venting"})
	f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "I just need to let this out"})
	f.llm.push("It sounds like you've said what you needed to.", map[string]any{"done": true})
	f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "that's all of it"})
	if f.reflection(t, rid).CurrentStage != models.StageVentingOffRamp {
		t.Fatal("done signal did not offer the off-ramp")
	}

	// A free-text answer at the off-ramp is the menu answer; even a
	// classifier override must not reroute it.
	f.intents.intent = models.IntentSkipToDraft
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", ReflectionID: rid, Message: "hmm, maybe"})
	r := f.reflection(t, rid)
	if r.CurrentStage != models.StageVentingOffRamp {
		t.Fatalf("stage = %d, want %d", r.CurrentStage, models.StageVentingOffRamp)
	}
	if len(resp.Options) != 2 {
		t.Errorf("expected the off-ramp re-ask, got %+v", resp)
	}
}

func TestResumeOrCreate(t *testing.T) {
	f := newFixture(t)
	resp := f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hi"})
	rid := resp.ReflectionID

	// A later contact without a reflection id offers to resume.
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "hello?"})
	if resp.ReflectionID != rid {
		t.Fatalf("resume offer referenced %s, want %s", resp.ReflectionID, rid)
	}
	if len(resp.Options) != 2 {
		t.Errorf("resume options = %v", resp.Options)
	}

	// Declining starts a fresh reflection.
	resp = f.turn(t, &models.TurnRequest{SessionID: "s1", Message: "no", Data: []map[string]string{{"choice": "0"}}})
	if resp.ReflectionID == rid {
		t.Error("declining resume reused the old reflection")
	}
	if !strings.Contains(resp.Reply, "welcome to Unsent") {
		t.Errorf("expected fresh welcome, got %q", resp.Reply)
	}
}

func TestSessionLockRejectsConcurrentTurn(t *testing.T) {
	locks := NewSessionLocks(time.Minute)
	if !locks.Acquire("s1") {
		t.Fatal("first acquire failed")
	}
	if locks.Acquire("s1") {
		t.Error("second acquire succeeded while held")
	}
	if !locks.Acquire("s2") {
		t.Error("different session blocked")
	}
	locks.Release("s1")
	if !locks.Acquire("s1") {
		t.Error("acquire after release failed")
	}
}

func TestSessionLockExpires(t *testing.T) {
	locks := NewSessionLocks(time.Minute)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	locks.now = func() time.Time { return base }
	if !locks.Acquire("s1") {
		t.Fatal("first acquire failed")
	}
	locks.now = func() time.Time { return base.Add(2 * time.Minute) }
	if !locks.Acquire("s1") {
		t.Error("expired lock was not reclaimed")
	}
}
