package classify

import (
	"context"
	"errors"
	"testing"
)

// mockEmbedder returns canned vectors keyed by input text.
type mockEmbedder struct {
	vectors map[string][]float64
	err     error
	calls   int
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := m.vectors[t]
		if !ok {
			v = []float64{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

// exemplarVectors places critical exemplars on one axis and warning
// exemplars on another, so test messages can be aimed at either region.
func exemplarVectors() map[string][]float64 {
	vectors := make(map[string][]float64)
	for _, e := range criticalExemplars {
		vectors[e] = []float64{1, 0, 0}
	}
	for _, e := range warningExemplars {
		vectors[e] = []float64{0, 1, 0}
	}
	return vectors
}

func TestCheck_LexicalScreen(t *testing.T) {
	d := NewDetector() // no embedder, lexical only
	cases := []struct {
		message string
		want    Severity
	}{
		{"I want to kill myself", SeverityCritical},
		{"sometimes I think about suicide.", SeverityCritical},
		{"there's no reason to live anymore", SeverityCritical},
		{"I'm furious at my landlord", SeverityNone},
		{"", SeverityNone},
		{"   ", SeverityNone},
	}
	for _, c := range cases {
		if got := d.Check(context.Background(), c.message); got != c.want {
			t.Errorf("Check(%q) = %d, want %d", c.message, got, c.want)
		}
	}
}

func TestCheck_SemanticScreen(t *testing.T) {
	vectors := exemplarVectors()
	vectors["everything is pointless"] = []float64{0.9, 0.1, 0}  // near critical region
	vectors["I feel so overwhelmed"] = []float64{0.1, 0.9, 0}    // near warning region
	vectors["my cat knocked over a plant"] = []float64{0, 0, 1}  // far from both

	d := NewDetector(WithEmbedder(&mockEmbedder{vectors: vectors}))

	cases := []struct {
		message string
		want    Severity
	}{
		{"everything is pointless", SeverityCritical},
		{"I feel so overwhelmed", SeverityWarning},
		{"my cat knocked over a plant", SeverityNone},
	}
	for _, c := range cases {
		if got := d.Check(context.Background(), c.message); got != c.want {
			t.Errorf("Check(%q) = %d, want %d", c.message, got, c.want)
		}
	}
}

func TestCheck_EmbedderFailureIsNone(t *testing.T) {
	d := NewDetector(WithEmbedder(&mockEmbedder{err: errors.New("embedding service down")}))
	if got := d.Check(context.Background(), "an ordinary message"); got != SeverityNone {
		t.Errorf("Check with failing embedder = %d, want SeverityNone", got)
	}
}

func TestCheck_ExemplarsEmbeddedOnce(t *testing.T) {
	m := &mockEmbedder{vectors: exemplarVectors()}
	d := NewDetector(WithEmbedder(m))

	d.Check(context.Background(), "first message")
	d.Check(context.Background(), "second message")

	// One bootstrap call plus one per message.
	if m.calls != 3 {
		t.Errorf("embed calls = %d, want 3", m.calls)
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float64{1, 0}, []float64{1, 0}); got != 1 {
		t.Errorf("cosine of identical vectors = %v, want 1", got)
	}
	if got := cosine([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("cosine of orthogonal vectors = %v, want 0", got)
	}
	if got := cosine([]float64{1, 0}, []float64{0, 0}); got != 0 {
		t.Errorf("cosine with zero vector = %v, want 0", got)
	}
	if got := cosine([]float64{1}, []float64{1, 0}); got != 0 {
		t.Errorf("cosine with length mismatch = %v, want 0", got)
	}
}
