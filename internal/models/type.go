package models

import "regexp"

// BaseType classifies a type as task-like or document-like and names the
// directory root its records live under.
type BaseType string

// Category roots on disk.
const (
	BaseTask     BaseType = "tasks"
	BaseDocument BaseType = "documents"
)

// IDStrategy selects how ids are allocated for a type.
type IDStrategy string

const (
	// IDSequential uses a per-type monotonic counter.
	IDSequential IDStrategy = "sequential"
	// IDDate keys the record by calendar date (YYYY-MM-DD), one per day.
	IDDate IDStrategy = "date"
	// IDTimestamp keys the record by local date-time with millisecond
	// precision, formatted to sort lexicographically by time.
	IDTimestamp IDStrategy = "timestamp"
)

// Type is a registry entry: a known item type with its category and
// current allocator state.
type Type struct {
	Name        string     `json:"name"`
	Base        BaseType   `json:"base_type"`
	Strategy    IDStrategy `json:"id_strategy"`
	Description string     `json:"description,omitempty"`
	Sequence    int64      `json:"-"`
	BuiltIn     bool       `json:"built_in"`
}

// TaskLike reports whether items of this type carry priority/status
// semantics for filtering purposes.
func (t Type) TaskLike() bool {
	return t.Base == BaseTask
}

// RequiresContent reports whether a non-empty body is mandatory at
// creation. Sessions and dailies are exempt: their bodies accrue over
// time and may start empty.
func (t Type) RequiresContent() bool {
	return t.Strategy == IDSequential
}

var typeNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidTypeName reports whether name starts with a lowercase letter and
// contains only lowercase letters, digits, and underscores.
func ValidTypeName(name string) bool {
	return typeNameRe.MatchString(name)
}

// BuiltinTypes returns the types registered at initialization.
func BuiltinTypes() []Type {
	return []Type{
		{Name: "issues", Base: BaseTask, Strategy: IDSequential, Description: "Bug reports and work items", BuiltIn: true},
		{Name: "plans", Base: BaseTask, Strategy: IDSequential, Description: "Project plans with timelines", BuiltIn: true},
		{Name: "docs", Base: BaseDocument, Strategy: IDSequential, Description: "Documentation", BuiltIn: true},
		{Name: "knowledge", Base: BaseDocument, Strategy: IDSequential, Description: "Knowledge entries", BuiltIn: true},
		{Name: "sessions", Base: BaseDocument, Strategy: IDTimestamp, Description: "Work session records", BuiltIn: true},
		{Name: "dailies", Base: BaseDocument, Strategy: IDDate, Description: "Daily summaries", BuiltIn: true},
	}
}

// IsBuiltinTypeName reports whether name collides with a built-in type.
func IsBuiltinTypeName(name string) bool {
	for _, t := range BuiltinTypes() {
		if t.Name == name {
			return true
		}
	}
	return false
}
