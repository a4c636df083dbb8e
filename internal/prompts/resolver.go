package prompts

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/unsent-labs/unsent/internal/models"
	"github.com/unsent-labs/unsent/internal/store"
)

var (
	singleBraceRe = regexp.MustCompile(`\{([\w-]+)\}`)
	doubleBraceRe = regexp.MustCompile(`\{\{([\w-]+)\}\}`)
)

// Resolved is a stage template after variable substitution, together with
// the routing metadata the dialogue core needs.
type Resolved struct {
	Prompt    string
	IsStatic  bool
	Audience  models.Audience
	NextStage *models.Stage
	Name      string
}

// Resolver fetches stage definitions and renders their templates.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve fetches the definition for the stage and substitutes template
// variables from values. Every variable referenced by the template must be
// present in values; a missing variable is an error, not an empty string,
// so a broken prompt never reaches the user half-rendered.
func (r *Resolver) Resolve(stage models.Stage, values map[string]string) (*Resolved, error) {
	def, err := r.store.GetStageDefinition(stage)
	if err != nil {
		slog.Error("Resolver.Resolve: stage lookup failed", "error", err, "stage", stage)
		return nil, fmt.Errorf("failed to load stage %d: %w", stage, err)
	}

	prompt, err := Substitute(def.Template, values)
	if err != nil {
		slog.Error("Resolver.Resolve: substitution failed", "error", err, "stage", stage)
		return nil, fmt.Errorf("failed to render stage %d: %w", stage, err)
	}

	slog.Debug("Resolver.Resolve succeeded", "stage", stage, "name", def.Name, "static", def.IsStatic)
	return &Resolved{
		Prompt:    prompt,
		IsStatic:  def.IsStatic,
		Audience:  def.Audience,
		NextStage: def.NextStage,
		Name:      def.Name,
	}, nil
}

// Substitute replaces {var} and {{var}} placeholders in template with the
// corresponding entries from values. Double-brace placeholders are replaced
// first so {{var}} is not consumed as a single-brace match.
func Substitute(template string, values map[string]string) (string, error) {
	if template == "" {
		return "", nil
	}

	vars := Variables(template)
	if len(vars) == 0 {
		return template, nil
	}

	var missing []string
	for _, v := range vars {
		if _, ok := values[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required template variables: %s", strings.Join(missing, ", "))
	}

	result := template
	for _, m := range doubleBraceRe.FindAllStringSubmatch(template, -1) {
		result = strings.ReplaceAll(result, m[0], values[m[1]])
	}
	for _, m := range singleBraceRe.FindAllStringSubmatch(result, -1) {
		result = strings.ReplaceAll(result, m[0], values[m[1]])
	}
	return result, nil
}

// Variables returns the sorted set of placeholder names referenced by the
// template, in either brace form.
func Variables(template string) []string {
	seen := make(map[string]bool)
	for _, m := range singleBraceRe.FindAllStringSubmatch(template, -1) {
		seen[m[1]] = true
	}
	for _, m := range doubleBraceRe.FindAllStringSubmatch(template, -1) {
		seen[m[1]] = true
	}
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}
