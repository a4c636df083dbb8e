package flow

import (
	"fmt"
	"strings"

	"github.com/unsent-labs/unsent/internal/models"
)

// stageValues gathers the template variables a stage's prompt needs. Every
// variable carries a neutral fallback so a half-filled reflection never
// breaks rendering.
func (e *Engine) stageValues(stage models.Stage, r *models.Reflection) (map[string]string, error) {
	switch stage {
	case models.StageWelcome:
		name := "there"
		if user, err := e.store.GetUserBySession(r.SessionID); err == nil && user != nil && user.Name != "" {
			name = user.Name
		}
		return map[string]string{"user_name": name}, nil

	case models.StageEmotionValidate:
		emotions := r.Emotion
		if emotions == "" {
			emotions = "the way you're feeling"
		}
		return map[string]string{"user_emotions": emotions}, nil

	case models.StageSynthesis:
		transcript, err := e.transcript(r)
		if err != nil {
			return nil, err
		}
		return map[string]string{"full_conversation_context": transcript}, nil

	case models.StageRevealPreamble, models.StagePreambleDecision:
		name := r.ReceiverName
		if name == "" {
			name = "them"
		}
		return map[string]string{"recipient_name": name}, nil

	case models.StageVentingSanctuary:
		emotions := r.Emotion
		if emotions == "" {
			emotions = "this feeling"
		}
		return map[string]string{"emotions": emotions}, nil
	}
	return nil, nil
}

// transcript renders the full dialogue as alternating speaker lines for
// the synthesis instruction.
func (e *Engine) transcript(r *models.Reflection) (string, error) {
	messages, err := e.store.MessagesByReflection(r.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load transcript for reflection %s: %w", r.ID, err)
	}
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		speaker := "Guide"
		if m.Sender == models.SenderUser {
			speaker = "User"
		}
		lines = append(lines, speaker+": "+m.Body)
	}
	return strings.Join(lines, "\n"), nil
}
