// Package classify implements the interrupt classifiers that run ahead of
// the stage engine: safety severity screening and global intent routing.
package classify

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
)

// Severity is the outcome of the safety screen for one user message.
type Severity int

const (
	// SeverityNone lets the turn proceed normally.
	SeverityNone Severity = 0
	// SeverityCritical locks the session and ends the conversation safely.
	SeverityCritical Severity = 1
	// SeverityWarning triggers an intensity follow-up without interrupting.
	SeverityWarning Severity = 2
)

// Default cosine similarity thresholds for the semantic screen.
const (
	DefaultCriticalThreshold = 0.65
	DefaultWarningThreshold  = 0.55
)

// criticalWords trip the lexical screen when they appear as whole words.
var criticalWords = []string{
	"suicide", "suicidal", "overdose",
}

// criticalPhrases trip the lexical screen on substring match.
var criticalPhrases = []string{
	"kill myself", "end my life", "end it all", "want to die",
	"hurt myself", "harm myself", "no reason to live",
	"better off without me", "not worth living",
}

// criticalExemplars anchor the semantic screen's critical region.
var criticalExemplars = []string{
	"I don't want to be alive anymore",
	"I've been thinking about ending everything",
	"Nobody would miss me if I was gone",
	"I have a plan to hurt myself",
	"I can't see any way out of this",
}

// warningExemplars anchor the semantic screen's elevated-distress region.
var warningExemplars = []string{
	"I feel completely hopeless and empty",
	"I can't stop crying and nothing helps",
	"Everything is falling apart and I can't cope",
	"I feel like I'm drowning and no one notices",
	"I'm so overwhelmed I can barely function",
}

// Embedder produces embedding vectors for the semantic screen.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Detector screens user messages for distress. The lexical pass always
// runs; the semantic pass runs when an embedder is configured, and any
// failure in it degrades to SeverityNone so safety infrastructure never
// blocks the conversation.
type Detector struct {
	embedder          Embedder
	criticalThreshold float64
	warningThreshold  float64

	mu           sync.Mutex
	criticalVecs [][]float64
	warningVecs  [][]float64

	blockWords map[string]bool
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithEmbedder enables the semantic screen.
func WithEmbedder(e Embedder) DetectorOption {
	return func(d *Detector) { d.embedder = e }
}

// WithCriticalThreshold overrides the critical similarity threshold.
func WithCriticalThreshold(t float64) DetectorOption {
	return func(d *Detector) { d.criticalThreshold = t }
}

// WithWarningThreshold overrides the warning similarity threshold.
func WithWarningThreshold(t float64) DetectorOption {
	return func(d *Detector) { d.warningThreshold = t }
}

// NewDetector creates a severity detector.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		criticalThreshold: DefaultCriticalThreshold,
		warningThreshold:  DefaultWarningThreshold,
		blockWords:        make(map[string]bool, len(criticalWords)),
	}
	for _, w := range criticalWords {
		d.blockWords[w] = true
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check classifies one user message. The lexical screen runs first and
// short-circuits on a critical hit; the semantic screen handles phrasing
// the word lists cannot anticipate.
func (d *Detector) Check(ctx context.Context, message string) Severity {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return SeverityNone
	}

	for _, word := range strings.Fields(text) {
		if d.blockWords[strings.Trim(word, ".,!?;:'\"")] {
			slog.Warn("Detector.Check: critical severity from lexical screen")
			return SeverityCritical
		}
	}
	for _, phrase := range criticalPhrases {
		if strings.Contains(text, phrase) {
			slog.Warn("Detector.Check: critical severity from lexical screen")
			return SeverityCritical
		}
	}

	if d.embedder == nil {
		return SeverityNone
	}
	return d.semanticCheck(ctx, message)
}

func (d *Detector) semanticCheck(ctx context.Context, message string) Severity {
	if err := d.ensureExemplars(ctx); err != nil {
		slog.Error("Detector.semanticCheck: exemplar bootstrap failed", "error", err)
		return SeverityNone
	}

	vecs, err := d.embedder.Embed(ctx, []string{message})
	if err != nil || len(vecs) != 1 {
		slog.Error("Detector.semanticCheck: message embedding failed", "error", err)
		return SeverityNone
	}
	msg := vecs[0]

	if maxSimilarity(msg, d.criticalVecs) >= d.criticalThreshold {
		slog.Warn("Detector.Check: critical severity from semantic screen")
		return SeverityCritical
	}
	if maxSimilarity(msg, d.warningVecs) >= d.warningThreshold {
		slog.Info("Detector.Check: warning severity from semantic screen")
		return SeverityWarning
	}
	return SeverityNone
}

// ensureExemplars lazily embeds the exemplar phrases. A failed attempt is
// retried on the next check rather than cached.
func (d *Detector) ensureExemplars(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.criticalVecs != nil {
		return nil
	}
	exemplars := append(append([]string{}, criticalExemplars...), warningExemplars...)
	vecs, err := d.embedder.Embed(ctx, exemplars)
	if err != nil {
		return err
	}
	d.criticalVecs = vecs[:len(criticalExemplars)]
	d.warningVecs = vecs[len(criticalExemplars):]
	return nil
}

func maxSimilarity(v []float64, against [][]float64) float64 {
	best := -1.0
	for _, a := range against {
		if s := cosine(v, a); s > best {
			best = s
		}
	}
	return best
}

// cosine returns the cosine similarity of two vectors, or 0 when either
// has no magnitude or the lengths differ.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
