package domain

// ItemKind discriminates the non-task entities a user can organise tasks with.
type ItemKind string

const (
	KindProject ItemKind = "project"
	KindIdea    ItemKind = "idea"
	KindArea    ItemKind = "area"
	KindTag     ItemKind = "tag"
)

// Valid reports whether k is a recognised item kind.
func (k ItemKind) Valid() bool {
	switch k {
	case KindProject, KindIdea, KindArea, KindTag:
		return true
	}
	return false
}

// Item represents a project, idea, area or tag in the read model.
type Item struct {
	ID        string   `json:"id"`
	Kind      ItemKind `json:"kind"`
	Name      string   `json:"name"`
	Notes     string   `json:"notes,omitempty"`
	Color     string   `json:"color,omitempty"`
	CreatedAt int64    `json:"createdAt"`
}
