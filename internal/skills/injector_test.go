package skills

import (
	"strings"
	"testing"

	"github.com/wisty/jimi/internal/models"
)

type fakeTracker struct {
	active map[string]bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{active: make(map[string]bool)}
}

func (f *fakeTracker) MarkSkillActive(name string) bool {
	if f.active[name] {
		return true
	}
	f.active[name] = true
	return false
}

func TestInjectorFormatsSkillBlock(t *testing.T) {
	inj := NewInjector()
	tracker := newFakeTracker()
	specs := []models.SkillSpec{
		{Name: "git-commit", Description: "desc", Body: "body text"},
	}

	msg, names, ok := inj.Inject(tracker, specs)
	if !ok {
		t.Fatal("expected injection to proceed")
	}
	if len(names) != 1 || names[0] != "git-commit" {
		t.Fatalf("names = %v", names)
	}
	if msg.Role != models.RoleSystem {
		t.Fatalf("role = %v", msg.Role)
	}
	text := msg.Content.Flatten()
	if !strings.Contains(text, "git-commit") || !strings.Contains(text, "body text") {
		t.Fatalf("missing skill content: %q", text)
	}
}

func TestInjectorSkipsAlreadyActive(t *testing.T) {
	inj := NewInjector()
	tracker := newFakeTracker()
	tracker.MarkSkillActive("git-commit")

	specs := []models.SkillSpec{{Name: "git-commit", Description: "desc", Body: "body"}}
	_, _, ok := inj.Inject(tracker, specs)
	if ok {
		t.Fatal("expected no injection when skill already active (invariant 5)")
	}
}

func TestInjectorPartialActiveSet(t *testing.T) {
	inj := NewInjector()
	tracker := newFakeTracker()
	tracker.MarkSkillActive("a")

	specs := []models.SkillSpec{
		{Name: "a", Description: "d", Body: "b"},
		{Name: "b", Description: "d", Body: "b"},
	}
	msg, names, ok := inj.Inject(tracker, specs)
	if !ok {
		t.Fatal("expected injection for the fresh skill")
	}
	if len(names) != 1 || names[0] != "b" {
		t.Fatalf("names = %v", names)
	}
	if strings.Contains(msg.Content.Flatten(), "## a") {
		t.Fatal("already-active skill should not be re-injected")
	}
}
