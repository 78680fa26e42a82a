package skills

import (
	"testing"

	"github.com/wisty/jimi/internal/models"
)

func sampleSkills() []models.SkillSpec {
	return []models.SkillSpec{
		{
			Name:        "git-commit",
			Description: "craft conventional commit messages for git",
			Triggers:    []string{"commit", "conventional commit"},
			Body:        "body1",
			Scope:       models.SkillScopeGlobal,
		},
		{
			Name:        "deploy",
			Description: "deploy the service to production",
			Triggers:    []string{"deploy", "ship it"},
			Body:        "body2",
			Scope:       models.SkillScopeProject,
		},
	}
}

func allScopes() map[models.SkillScope]bool {
	return map[models.SkillScope]bool{
		models.SkillScopeGlobal:  true,
		models.SkillScopeProject: true,
	}
}

func TestMatchExactTriggerWordScores50Plus(t *testing.T) {
	m := NewMatcher(MatcherConfig{})
	result := m.Match(sampleSkills(), allScopes(), "please help me commit this")
	if len(result) != 1 || result[0].Name != "git-commit" {
		t.Fatalf("expected git-commit matched, got %+v", result)
	}
}

func TestMatchScopeFiltering(t *testing.T) {
	m := NewMatcher(MatcherConfig{})
	scopes := map[models.SkillScope]bool{models.SkillScopeGlobal: true}
	result := m.Match(sampleSkills(), scopes, "ship it to deploy prod")
	for _, r := range result {
		if r.Name == "deploy" {
			t.Fatal("project-scope skill should have been filtered out")
		}
	}
}

func TestMatchBelowThresholdDropped(t *testing.T) {
	m := NewMatcher(MatcherConfig{})
	result := m.Match(sampleSkills(), allScopes(), "what is the weather today")
	if len(result) != 0 {
		t.Fatalf("expected no matches, got %+v", result)
	}
}

func TestMatchCapsAtMaxSkills(t *testing.T) {
	specs := []models.SkillSpec{}
	for i := 0; i < 10; i++ {
		specs = append(specs, models.SkillSpec{
			Name:        "skill",
			Description: "deploy",
			Triggers:    []string{"deploy"},
			Scope:       models.SkillScopeGlobal,
		})
	}
	m := NewMatcher(MatcherConfig{MaxSkills: 3})
	result := m.Match(specs, allScopes(), "deploy now please")
	if len(result) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(result))
	}
}

func TestMatchResultsAreCached(t *testing.T) {
	m := NewMatcher(MatcherConfig{})
	first := m.Match(sampleSkills(), allScopes(), "commit this change")
	// Mutate candidate list after first call; a cache hit should still
	// return the original result for the same input text.
	second := m.Match(nil, allScopes(), "commit this change")
	if len(first) != len(second) {
		t.Fatalf("expected cached result reused, got %+v vs %+v", first, second)
	}
}
