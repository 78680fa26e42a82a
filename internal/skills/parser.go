// Package skills implements the Skill Matcher/Injector (C6): loading
// SkillSpecs from Markdown+YAML-frontmatter files, scoring them against
// the latest user input, and splicing the winners into the prompt as a
// single system-role message. Grounded on the teacher's
// internal/skills/parser.go (splitFrontmatter) and manager.go
// (fsnotify-driven hot reload), narrowed to spec.md's exact scoring
// rule rather than the teacher's capability-gating engine.
package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wisty/jimi/internal/models"
)

// frontmatterDelimiter marks the start and end of a SKILL.md's YAML
// header, matching the teacher's convention exactly.
const frontmatterDelimiter = "---"

// frontmatter is the YAML-decoded shape of a skill file's header.
type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Triggers    []string `yaml:"triggers"`
	Scope       string   `yaml:"scope"`
}

// ParseFile reads and parses a single SKILL.md file from disk.
func ParseFile(path string) (models.SkillSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.SkillSpec{}, fmt.Errorf("skills: reading %s: %w", path, err)
	}
	spec, err := Parse(data)
	if err != nil {
		return models.SkillSpec{}, fmt.Errorf("skills: parsing %s: %w", path, err)
	}
	return spec, nil
}

// Parse decodes a SKILL.md document's frontmatter and body into a
// SkillSpec.
func Parse(data []byte) (models.SkillSpec, error) {
	header, body, err := splitFrontmatter(data)
	if err != nil {
		return models.SkillSpec{}, err
	}

	var fm frontmatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return models.SkillSpec{}, fmt.Errorf("parsing frontmatter: %w", err)
	}
	if fm.Name == "" {
		return models.SkillSpec{}, fmt.Errorf("skill name is required")
	}
	if fm.Description == "" {
		return models.SkillSpec{}, fmt.Errorf("skill description is required")
	}

	scope := models.SkillScopeGlobal
	if fm.Scope == string(models.SkillScopeProject) {
		scope = models.SkillScopeProject
	}

	return models.SkillSpec{
		Name:        fm.Name,
		Description: fm.Description,
		Triggers:    fm.Triggers,
		Body:        strings.TrimSpace(string(body)),
		Scope:       scope,
	}, nil
}

// splitFrontmatter separates the leading YAML block (delimited by
// "---" lines) from the remaining Markdown body.
func splitFrontmatter(data []byte) (header, body []byte, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty skill file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var headerLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		headerLines = append(headerLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scanning skill file: %w", err)
	}

	return []byte(strings.Join(headerLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

// LoadDir parses every SKILL.md found one directory level below dir
// (each skill lives in its own subdirectory, per the teacher's layout),
// skipping and logging (via the returned error slice) any file that
// fails to parse rather than aborting the whole load.
func LoadDir(dir string) ([]models.SkillSpec, []error) {
	var specs []models.SkillSpec
	var errs []error

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("skills: reading dir %s: %w", dir, err)}
	}

	for _, entry := range entries {
		var path string
		if entry.IsDir() {
			path = filepath.Join(dir, entry.Name(), "SKILL.md")
			if _, err := os.Stat(path); err != nil {
				continue
			}
		} else if strings.EqualFold(entry.Name(), "SKILL.md") {
			path = filepath.Join(dir, entry.Name())
		} else {
			continue
		}

		spec, err := ParseFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		specs = append(specs, spec)
	}

	return specs, errs
}
