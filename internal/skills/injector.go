package skills

import (
	"strings"

	"github.com/wisty/jimi/internal/models"
)

// ActiveTracker records which skill names have already been injected
// into a session, enforcing spec §4.6/invariant 5's "never inject the
// same skill twice" rule. contextstore.Context satisfies this via its
// MarkSkillActive method.
type ActiveTracker interface {
	MarkSkillActive(name string) (alreadyActive bool)
}

// Injector formats matched SkillSpecs into a single system-role Message
// and filters out any already marked active for the session.
type Injector struct{}

// NewInjector builds an Injector.
func NewInjector() *Injector {
	return &Injector{}
}

// Inject filters matched against tracker's active set, then formats the
// remaining skills as one system Message. It returns (message, names,
// ok); ok is false when every matched skill was already active, in
// which case no message should be appended (invariant 5: zero new
// messages).
func (i *Injector) Inject(tracker ActiveTracker, matched []models.SkillSpec) (models.Message, []string, bool) {
	var fresh []models.SkillSpec
	var names []string
	for _, s := range matched {
		if tracker.MarkSkillActive(s.Name) {
			continue // already active this session, skip per invariant 5
		}
		fresh = append(fresh, s)
		names = append(names, s.Name)
	}

	if len(fresh) == 0 {
		return models.Message{}, nil, false
	}

	return models.Message{
		Role:    models.RoleSystem,
		Content: models.NewTextContent(formatSkillBlock(fresh)),
	}, names, true
}

// formatSkillBlock renders matched skills as a Markdown header block,
// each skill's name/description/body delimited by horizontal rules, per
// spec §4.6.
func formatSkillBlock(specs []models.SkillSpec) string {
	var b strings.Builder
	b.WriteString("# Relevant skills\n\n")
	for idx, s := range specs {
		if idx > 0 {
			b.WriteString("\n---\n\n")
		}
		b.WriteString("## " + s.Name + "\n\n")
		b.WriteString(s.Description + "\n\n")
		b.WriteString(s.Body)
		b.WriteString("\n")
	}
	return b.String()
}
