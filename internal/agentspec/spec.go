// Package agentspec loads the YAML "Agent spec format" of spec.md §6
// and renders its Markdown system-prompt template. Grounded in registry
// shape on the teacher's internal/templates package, but implemented as
// pure ${VAR} string substitution per spec.md's explicit "no
// logic-in-templates, no file includes" design note — the teacher's
// text/template-based engine is NOT reused here, since it would bring
// back exactly the logic-in-templates capability spec.md rules out.
package agentspec

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SubAgentRef is one entry of a Spec's `subagents` map.
type SubAgentRef struct {
	Path        string `yaml:"path"`
	Description string `yaml:"description"`
}

// Spec is the YAML-decoded shape of an agent spec file, per spec.md §6.
type Spec struct {
	Name             string                 `yaml:"name"`
	SystemPrompt     string                 `yaml:"system_prompt"`
	SystemPromptArgs map[string]string      `yaml:"system_prompt_args"`
	Model            *string                `yaml:"model"`
	Tools            []string               `yaml:"tools"`
	ExcludeTools     []string               `yaml:"exclude_tools"`
	SubAgents        map[string]SubAgentRef `yaml:"subagents"`

	// dir is the directory the spec file was loaded from; system_prompt
	// paths are resolved relative to it.
	dir string
}

// Load reads and decodes an agent spec YAML file from path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentspec: reading %s: %w", path, err)
	}
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("agentspec: parsing %s: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("agentspec: %s: name is required", path)
	}
	for key := range s.SystemPromptArgs {
		if err := validateName(key); err != nil {
			return nil, fmt.Errorf("agentspec: %s: system_prompt_args: %w", path, err)
		}
	}
	s.dir = filepath.Dir(path)
	return &s, nil
}

// ResolvedTools returns Tools with anything named in ExcludeTools
// removed, preserving Tools' order.
func (s *Spec) ResolvedTools() []string {
	excluded := make(map[string]bool, len(s.ExcludeTools))
	for _, name := range s.ExcludeTools {
		excluded[name] = true
	}
	out := make([]string, 0, len(s.Tools))
	for _, name := range s.Tools {
		if !excluded[name] {
			out = append(out, name)
		}
	}
	return out
}

// SystemPromptPath resolves the spec's system_prompt field against the
// directory the spec file was loaded from.
func (s *Spec) SystemPromptPath() string {
	if filepath.IsAbs(s.SystemPrompt) {
		return s.SystemPrompt
	}
	return filepath.Join(s.dir, s.SystemPrompt)
}

// RenderSystemPrompt loads the spec's system-prompt Markdown template
// and substitutes ${VAR} placeholders, merging built-ins with
// SystemPromptArgs (explicit args win on collision).
func (s *Spec) RenderSystemPrompt(builtins Builtins) (string, error) {
	data, err := os.ReadFile(s.SystemPromptPath())
	if err != nil {
		return "", fmt.Errorf("agentspec: reading system prompt for %q: %w", s.Name, err)
	}

	vars := builtins.toMap()
	for k, v := range s.SystemPromptArgs {
		vars[k] = v
	}
	return Substitute(string(data), vars), nil
}
