package prompts

import (
	"strings"
	"testing"

	"github.com/unsent-labs/unsent/internal/models"
	"github.com/unsent-labs/unsent/internal/store"
)

func seededStore(t *testing.T) store.Store {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := EnsureSeed(st); err != nil {
		t.Fatalf("EnsureSeed failed: %v", err)
	}
	return st
}

func TestEnsureSeedFillsAllStages(t *testing.T) {
	st := seededStore(t)
	for _, def := range StageDefinitions {
		got, err := st.GetStageDefinition(def.StageID)
		if err != nil {
			t.Fatalf("stage %d missing after seed: %v", def.StageID, err)
		}
		if got.Template == "" {
			t.Errorf("stage %d seeded with empty template", def.StageID)
		}
	}
}

func TestEnsureSeedPreservesExistingRows(t *testing.T) {
	st := store.NewInMemoryStore()
	custom := models.StageDefinition{
		StageID:  models.StageEmotion,
		Name:     "emotion",
		IsStatic: true,
		Audience: models.AudienceUser,
		Template: "operator-edited copy",
	}
	if err := st.UpsertStageDefinition(custom); err != nil {
		t.Fatalf("UpsertStageDefinition failed: %v", err)
	}
	if err := EnsureSeed(st); err != nil {
		t.Fatalf("EnsureSeed failed: %v", err)
	}
	got, err := st.GetStageDefinition(models.StageEmotion)
	if err != nil {
		t.Fatalf("GetStageDefinition failed: %v", err)
	}
	if got.Template != "operator-edited copy" {
		t.Errorf("seed overwrote existing definition: %q", got.Template)
	}
}

func TestSubstitute(t *testing.T) {
	cases := []struct {
		name     string
		template string
		values   map[string]string
		want     string
		wantErr  string
	}{
		{
			name:     "no variables",
			template: "plain text",
			values:   nil,
			want:     "plain text",
		},
		{
			name:     "single brace",
			template: "Hi {user_name}, welcome.",
			values:   map[string]string{"user_name": "Sam"},
			want:     "Hi Sam, welcome.",
		},
		{
			name:     "double brace",
			template: "Context:\n{{full_conversation_context}}",
			values:   map[string]string{"full_conversation_context": "User: hello"},
			want:     "Context:\nUser: hello",
		},
		{
			name:     "mixed braces",
			template: "{name} said: {{quote}}",
			values:   map[string]string{"name": "Maya", "quote": "thanks"},
			want:     "Maya said: thanks",
		},
		{
			name:     "missing variable is an error",
			template: "Hi {user_name}, you feel {user_emotions}.",
			values:   map[string]string{"user_name": "Sam"},
			wantErr:  "user_emotions",
		},
		{
			name:     "empty value is allowed",
			template: "Hi {user_name}.",
			values:   map[string]string{"user_name": ""},
			want:     "Hi .",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Substitute(c.template, c.values)
			if c.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), c.wantErr) {
					t.Fatalf("Substitute error = %v, want mention of %q", err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Substitute failed: %v", err)
			}
			if got != c.want {
				t.Errorf("Substitute = %q, want %q", got, c.want)
			}
		})
	}
}

func TestResolveStaticStage(t *testing.T) {
	r := NewResolver(seededStore(t))

	res, err := r.Resolve(models.StageEmotion, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.IsStatic || res.Audience != models.AudienceUser {
		t.Errorf("emotion stage metadata = static:%v audience:%d", res.IsStatic, res.Audience)
	}
	if res.NextStage == nil || *res.NextStage != models.StageEmotionValidate {
		t.Errorf("emotion next stage = %v, want %d", res.NextStage, models.StageEmotionValidate)
	}

	// Static resolution is idempotent.
	again, err := r.Resolve(models.StageEmotion, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if again.Prompt != res.Prompt {
		t.Errorf("static resolution changed between calls")
	}
}

func TestResolveDynamicStage(t *testing.T) {
	r := NewResolver(seededStore(t))

	res, err := r.Resolve(models.StageWelcome, map[string]string{"user_name": "Ana"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !strings.Contains(res.Prompt, "Ana") {
		t.Errorf("welcome prompt missing substituted name: %q", res.Prompt)
	}
	if strings.Contains(res.Prompt, "{user_name}") {
		t.Errorf("welcome prompt left placeholder unrendered: %q", res.Prompt)
	}

	// Missing variable surfaces as an error rather than a blank render.
	if _, err := r.Resolve(models.StageWelcome, nil); err == nil {
		t.Error("Resolve with missing variable succeeded, want error")
	}
}

func TestResolveUnknownStage(t *testing.T) {
	r := NewResolver(seededStore(t))
	if _, err := r.Resolve(models.Stage(99), nil); err == nil {
		t.Error("Resolve of unknown stage succeeded, want error")
	}
}
