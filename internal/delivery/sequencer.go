// Package delivery implements the hand-off from a finished reflection to
// the outside world: the identity reveal decision, the channel choice,
// and the actual dispatch of the summary over email and WhatsApp.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/unsent-labs/unsent/internal/messaging"
	"github.com/unsent-labs/unsent/internal/models"
	"github.com/unsent-labs/unsent/internal/store"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const (
	identityPrompt   = "Before it goes, would you like to sign it with your name, or send it anonymously?"
	namePrompt       = "What name would you like to sign it with?"
	modePrompt       = "Perfect! How would you like to deliver your message?"
	privateSaved     = "Your message is saved privately. How are you feeling?"
	deliveredClosing = " Now, how are you feeling?"
)

// Sequencer walks a reflection through delivery. It records the identity
// decision, validates the channel choice, creates or links the recipient
// user, and dispatches the summary.
type Sequencer struct {
	store    store.Store
	email    messaging.Sender
	whatsapp messaging.Sender
}

// NewSequencer creates a delivery sequencer. Either sender may be nil when
// the corresponding channel is not configured; choosing it then fails at
// dispatch time.
func NewSequencer(st store.Store, email, whatsapp messaging.Sender) *Sequencer {
	return &Sequencer{store: st, email: email, whatsapp: whatsapp}
}

// Offer returns the next delivery question for a reflection whose author
// decided to send: the identity reveal question first, then the channel
// choice once identity is settled.
func (s *Sequencer) Offer(r *models.Reflection) (string, []models.ChoiceOption) {
	if !r.IdentityDecided() {
		return identityPrompt, identityOptions()
	}
	return modePrompt, modeOptions()
}

// ProcessIdentity records the identity reveal decision and moves the
// conversation to the channel choice.
func (s *Sequencer) ProcessIdentity(ctx context.Context, req models.IdentityRequest) (*models.TurnResponse, error) {
	r, err := s.reflection(req.ReflectionID)
	if err != nil {
		return nil, err
	}

	if !req.Reveal {
		if err := s.store.SetReflectionIdentity(r.ID, true, ""); err != nil {
			return nil, fmt.Errorf("failed to record identity decision: %w", err)
		}
		slog.Info("Sequencer.ProcessIdentity recorded anonymous", "reflection_id", r.ID)
		return s.respond(r, modePrompt, modeOptions()), nil
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = s.senderNameFromProfile(r)
	}
	if name == "" {
		// Cannot sign without a name; ask and leave the decision open.
		return s.respond(r, namePrompt, nil), nil
	}

	if err := s.store.SetReflectionIdentity(r.ID, false, name); err != nil {
		return nil, fmt.Errorf("failed to record identity decision: %w", err)
	}
	slog.Info("Sequencer.ProcessIdentity recorded signed", "reflection_id", r.ID, "sender_name", name)
	return s.respond(r, modePrompt, modeOptions()), nil
}

// ProcessMode validates the channel choice and dispatches the summary. The
// private mode closes the reflection without sending anything.
func (s *Sequencer) ProcessMode(ctx context.Context, req models.ModeRequest) (*models.TurnResponse, error) {
	if !models.IsValidDeliveryMode(req.Mode) {
		return nil, fmt.Errorf("mode %d: %w", req.Mode, models.ErrInvalidDeliveryMode)
	}

	r, err := s.reflection(req.ReflectionID)
	if err != nil {
		return nil, err
	}
	if !r.IdentityDecided() {
		return nil, models.ErrIdentityUndecided
	}
	summary := strings.TrimSpace(r.Summary)
	if summary == "" {
		return nil, models.ErrNoSummary
	}

	if req.Mode == models.ModePrivate {
		return s.closePrivate(r, summary)
	}

	email := strings.TrimSpace(req.RecipientEmail)
	phone := strings.TrimSpace(req.RecipientPhone)
	wantEmail := req.Mode == models.ModeEmail || req.Mode == models.ModeBoth
	wantWhatsApp := req.Mode == models.ModeWhatsApp || req.Mode == models.ModeBoth

	if wantEmail && email == "" && req.Mode != models.ModeBoth {
		return nil, models.ErrMissingContact
	}
	if wantWhatsApp && phone == "" && req.Mode != models.ModeBoth {
		return nil, models.ErrMissingContact
	}
	if req.Mode == models.ModeBoth && email == "" && phone == "" {
		return nil, models.ErrMissingContact
	}
	if wantEmail && email != "" && !emailRegex.MatchString(email) {
		return nil, fmt.Errorf("%q: %w", email, models.ErrInvalidEmail)
	}

	content := s.compose(r, summary)

	var emailErr, whatsappErr error
	emailTried := wantEmail && email != ""
	whatsappTried := wantWhatsApp && phone != ""

	// Recipient linking touches shared state, so it runs before the
	// channel fan-out. A link failure counts as that channel failing.
	canonicalPhone := ""
	if whatsappTried {
		canonicalPhone, whatsappErr = messaging.CanonicalizePhone(phone)
	}
	if emailTried {
		emailErr = s.linkRecipient(r, email, "")
	}
	if whatsappTried && whatsappErr == nil {
		whatsappErr = s.linkRecipient(r, "", canonicalPhone)
	}

	var g errgroup.Group
	if emailTried && emailErr == nil {
		g.Go(func() error {
			emailErr = s.sendEmail(ctx, r, email, content)
			return nil
		})
	}
	if whatsappTried && whatsappErr == nil {
		g.Go(func() error {
			whatsappErr = s.sendWhatsApp(ctx, r, canonicalPhone, content)
			return nil
		})
	}
	g.Wait()

	var sent []string
	if emailTried && emailErr == nil {
		sent = append(sent, "email_sent")
	}
	if whatsappTried && whatsappErr == nil {
		sent = append(sent, "whatsapp_sent")
	}
	if len(sent) == 0 {
		slog.Error("Sequencer.ProcessMode all channels failed",
			"reflection_id", r.ID, "email_error", emailErr, "whatsapp_error", whatsappErr)
		return nil, fmt.Errorf("all selected delivery channels failed")
	}

	if err := s.markDelivered(r, req.Mode); err != nil {
		return nil, err
	}

	var reply string
	switch {
	case len(sent) == 2:
		reply = "Your message has been sent via email and WhatsApp!"
	case sent[0] == "email_sent":
		reply = fmt.Sprintf("Your message has been sent via email to %s.", email)
	default:
		reply = fmt.Sprintf("Your message has been sent via WhatsApp to %s.", phone)
	}

	resp := s.respond(r, reply+deliveredClosing, nil)
	resp.Data = map[string]any{
		"summary":           summary,
		"delivery_status":   sent,
		"delivery_complete": true,
	}
	return resp, nil
}

// ProcessThirdParty sends the summary to an email address supplied by a
// third party, outside the ordinary channel choice.
func (s *Sequencer) ProcessThirdParty(ctx context.Context, req models.ThirdPartyRequest) (*models.TurnResponse, error) {
	r, err := s.reflection(req.ReflectionID)
	if err != nil {
		return nil, err
	}
	summary := strings.TrimSpace(r.Summary)
	if summary == "" {
		return nil, models.ErrNoSummary
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, models.ErrMissingContact
	}
	if !emailRegex.MatchString(email) {
		return nil, fmt.Errorf("%q: %w", email, models.ErrInvalidEmail)
	}

	content := s.compose(r, summary)
	if err := s.linkRecipient(r, email, ""); err != nil {
		return nil, err
	}
	if err := s.sendEmail(ctx, r, email, content); err != nil {
		return nil, err
	}

	if err := s.markDelivered(r, models.ModeThirdPartyEmail); err != nil {
		return nil, err
	}

	reply := fmt.Sprintf("Your message has been sent via email to %s.", email)
	resp := s.respond(r, reply+deliveredClosing, nil)
	resp.Data = map[string]any{
		"summary":           summary,
		"delivery_status":   []string{"email_sent"},
		"delivery_complete": true,
	}
	return resp, nil
}

func (s *Sequencer) reflection(id string) (*models.Reflection, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid reflection id %q: %w", id, models.ErrReflectionNotFound)
	}
	return s.store.GetReflection(parsed)
}

func (s *Sequencer) closePrivate(r *models.Reflection, summary string) (*models.TurnResponse, error) {
	if err := s.store.SetReflectionDeliveryMode(r.ID, models.ModePrivate); err != nil {
		return nil, fmt.Errorf("failed to record delivery mode: %w", err)
	}
	if err := s.store.UpdateReflectionStatus(r.ID, models.StatusClosed); err != nil {
		return nil, fmt.Errorf("failed to close reflection: %w", err)
	}
	if err := s.store.UpdateReflectionStage(r.ID, models.StageClosing); err != nil {
		return nil, fmt.Errorf("failed to advance stage: %w", err)
	}
	r.CurrentStage = models.StageClosing
	slog.Info("Sequencer.ProcessMode kept message private", "reflection_id", r.ID)

	resp := s.respond(r, privateSaved, nil)
	resp.Data = map[string]any{
		"summary":           summary,
		"delivery_status":   []string{"private"},
		"delivery_complete": true,
	}
	return resp, nil
}

func (s *Sequencer) sendEmail(ctx context.Context, r *models.Reflection, email string, content messaging.Content) error {
	if s.email == nil {
		return fmt.Errorf("email channel is not configured")
	}
	if err := s.email.Send(ctx, email, content); err != nil {
		slog.Warn("Sequencer email delivery failed", "reflection_id", r.ID, "error", err)
		return err
	}
	slog.Info("Sequencer email delivery succeeded", "reflection_id", r.ID, "to", email)
	return nil
}

func (s *Sequencer) sendWhatsApp(ctx context.Context, r *models.Reflection, phone string, content messaging.Content) error {
	if s.whatsapp == nil {
		return fmt.Errorf("whatsapp channel is not configured")
	}
	if err := s.whatsapp.Send(ctx, phone, content); err != nil {
		slog.Warn("Sequencer whatsapp delivery failed", "reflection_id", r.ID, "error", err)
		return err
	}
	slog.Info("Sequencer whatsapp delivery succeeded", "reflection_id", r.ID, "to", phone)
	return nil
}

// linkRecipient finds or creates the recipient user for the contact and
// points the reflection at it, so the message can land in an inbox later.
func (s *Sequencer) linkRecipient(r *models.Reflection, email, phone string) error {
	var existing *models.User
	var err error
	if email != "" {
		existing, err = s.store.FindUserByEmail(email)
	} else {
		existing, err = s.store.FindUserByPhone(phone)
	}
	if err != nil {
		return fmt.Errorf("failed to look up recipient user: %w", err)
	}

	if existing == nil {
		u := models.User{
			ID:    uuid.New(),
			Name:  r.ReceiverName,
			Email: email,
			Phone: phone,
		}
		if err := s.store.SaveUser(u); err != nil {
			return fmt.Errorf("failed to create recipient user: %w", err)
		}
		existing = &u
		slog.Info("Sequencer created recipient user", "user_id", u.ID, "reflection_id", r.ID)
	}

	if err := s.store.SetReflectionReceiverUser(r.ID, existing.ID); err != nil {
		return fmt.Errorf("failed to link recipient user: %w", err)
	}
	r.ReceiverUserID = &existing.ID
	return nil
}

func (s *Sequencer) markDelivered(r *models.Reflection, mode models.DeliveryMode) error {
	if err := s.store.SetReflectionDeliveryMode(r.ID, mode); err != nil {
		return fmt.Errorf("failed to record delivery mode: %w", err)
	}
	if err := s.store.UpdateReflectionStatus(r.ID, models.StatusDelivered); err != nil {
		return fmt.Errorf("failed to mark reflection delivered: %w", err)
	}
	if err := s.store.UpdateReflectionStage(r.ID, models.StageClosing); err != nil {
		return fmt.Errorf("failed to advance stage: %w", err)
	}
	r.IsDelivered = models.StatusDelivered
	r.CurrentStage = models.StageClosing
	return nil
}

// compose builds the deliverable message from the reflection's summary,
// signed or anonymous per the identity decision.
func (s *Sequencer) compose(r *models.Reflection, summary string) messaging.Content {
	sender := s.senderName(r)
	receiver := r.ReceiverName
	if receiver == "" {
		receiver = "there"
	}

	var subject string
	if sender == "Anonymous" {
		subject = "Someone sent you a message"
	} else {
		subject = fmt.Sprintf("A message from %s", sender)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", receiver)
	b.WriteString(summary)
	b.WriteString("\n\n")
	if sender == "Anonymous" {
		b.WriteString("Sent anonymously through Unsent.")
	} else {
		fmt.Fprintf(&b, "— %s", sender)
	}

	return messaging.Content{
		SenderName:   sender,
		ReceiverName: r.ReceiverName,
		Subject:      subject,
		Body:         b.String(),
	}
}

// senderName resolves how the message is signed: "Anonymous" when the
// author chose not to reveal, otherwise the signed name or profile name.
func (s *Sequencer) senderName(r *models.Reflection) string {
	if r.IsAnonymous != nil && *r.IsAnonymous {
		return "Anonymous"
	}
	if r.SenderName != "" {
		return r.SenderName
	}
	if name := s.senderNameFromProfile(r); name != "" {
		return name
	}
	return "Anonymous"
}

func (s *Sequencer) senderNameFromProfile(r *models.Reflection) string {
	u, err := s.store.GetUserBySession(r.SessionID)
	if err != nil || u == nil {
		return ""
	}
	return u.Name
}

func (s *Sequencer) respond(r *models.Reflection, reply string, options []models.ChoiceOption) *models.TurnResponse {
	return &models.TurnResponse{
		Success:      true,
		ReflectionID: r.ID.String(),
		Reply:        reply,
		CurrentStage: models.StagePtr(r.CurrentStage),
		NextStage:    models.StagePtr(r.CurrentStage),
		Options:      options,
	}
}

func identityOptions() []models.ChoiceOption {
	return []models.ChoiceOption{
		{Choice: "1", Label: "Sign it"},
		{Choice: "0", Label: "Anonymously"},
	}
}

func modeOptions() []models.ChoiceOption {
	return []models.ChoiceOption{
		{Choice: "0", Label: "Email"},
		{Choice: "1", Label: "WhatsApp"},
		{Choice: "2", Label: "Both"},
		{Choice: "3", Label: "Keep it private"},
	}
}
