package models

// CheckpointTag optionally marks why a Checkpoint was created.
type CheckpointTag string

const (
	CheckpointInitial CheckpointTag = "initial"
	CheckpointStep    CheckpointTag = "step"
)

// Checkpoint is a saved history-length marker permitting rollback.
// IDs are monotonically increasing within a Context.
type Checkpoint struct {
	ID     int64
	Length int
	Tag    CheckpointTag
}

// SkillScope controls which active-skill set a SkillSpec participates in.
type SkillScope string

const (
	SkillScopeGlobal  SkillScope = "global"
	SkillScopeProject SkillScope = "project"
)

// SkillSpec is an immutable, trigger-activated block of domain knowledge
// loaded once at startup and spliced into the prompt by the matcher and
// injector (C6) when its triggers match the latest user input.
type SkillSpec struct {
	Name        string
	Description string
	Triggers    []string
	Body        string
	Scope       SkillScope
}
