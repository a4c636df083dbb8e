package classify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/unsent-labs/unsent/internal/models"
)

// Completer is the slice of the language model gateway the classifiers use.
type Completer interface {
	Complete(ctx context.Context, instruction, userText, sessionID string) models.CanonicalResult
}

// IntentClassifier decides whether a user message should re-route the
// conversation, and grades emotional intensity for the warning path.
type IntentClassifier struct {
	resolve func(stage models.Stage, values map[string]string) (string, error)
	llm     Completer
}

// NewIntentClassifier creates a classifier. resolve renders a stored
// instruction template for the given stage.
func NewIntentClassifier(resolve func(stage models.Stage, values map[string]string) (string, error), llm Completer) *IntentClassifier {
	return &IntentClassifier{resolve: resolve, llm: llm}
}

// Decide classifies the user's message against the re-routing intents.
// Any failure in resolution or the model call yields NO_OVERRIDE so the
// ordinary flow continues.
func (c *IntentClassifier) Decide(ctx context.Context, message, sessionID string) models.Intent {
	instruction, err := c.resolve(models.StageIntentClassifier, nil)
	if err != nil {
		slog.Error("IntentClassifier.Decide: instruction resolution failed", "error", err)
		return models.IntentNoOverride
	}
	result := c.llm.Complete(ctx, instruction, message, sessionID)
	if result.Degraded {
		slog.Warn("IntentClassifier.Decide: degraded model result", "sessionID", sessionID)
		return models.IntentNoOverride
	}
	intent := models.ParseIntent(strings.TrimSpace(result.SystemString("decision")))
	slog.Debug("IntentClassifier.Decide", "sessionID", sessionID, "intent", intent)
	return intent
}

// Intensity grades the emotional intensity of a message for the warning
// severity path. Failures report "low" so the safety follow-up stays quiet
// rather than firing spuriously.
func (c *IntentClassifier) Intensity(ctx context.Context, message, sessionID string) string {
	instruction, err := c.resolve(models.StageIntensityCheck, nil)
	if err != nil {
		slog.Error("IntentClassifier.Intensity: instruction resolution failed", "error", err)
		return "low"
	}
	result := c.llm.Complete(ctx, instruction, message, sessionID)
	if result.Degraded {
		return "low"
	}
	intensity := strings.ToLower(strings.TrimSpace(result.SystemString("intensity")))
	if intensity == "" {
		return "low"
	}
	return intensity
}
