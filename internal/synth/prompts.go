package synth

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	questionPlaceholder = "{{question}}"
	contextPlaceholder  = "{{context}}"
)

// Prompts are the templates sent to the completion service.
type Prompts struct {
	System       string `yaml:"system"`
	UserTemplate string `yaml:"user_template"`
}

// ParsePrompts decodes a prompts YAML document and checks that the user
// template has both placeholders.
func ParsePrompts(data []byte) (Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts: %w", err)
	}
	if strings.TrimSpace(p.System) == "" {
		return Prompts{}, fmt.Errorf("prompts: system prompt is empty")
	}
	for _, ph := range []string{questionPlaceholder, contextPlaceholder} {
		if !strings.Contains(p.UserTemplate, ph) {
			return Prompts{}, fmt.Errorf("prompts: user_template is missing %s", ph)
		}
	}
	return p, nil
}

// LoadPrompts reads path when set, otherwise parses fallback.
func LoadPrompts(path string, fallback []byte) (Prompts, error) {
	if path == "" {
		return ParsePrompts(fallback)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts file: %w", err)
	}
	return ParsePrompts(data)
}

// Render fills the user template.
func (p Prompts) Render(question, context string) string {
	return strings.NewReplacer(
		questionPlaceholder, question,
		contextPlaceholder, context,
	).Replace(p.UserTemplate)
}
