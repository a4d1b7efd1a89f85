package models

// EntityKind identifies the kind of workspace entity a rule may reference.
type EntityKind string

const (
	EntityCategory    EntityKind = "category"
	EntityBeneficiary EntityKind = "beneficiary"
	EntityAccount     EntityKind = "account"
	EntityTag         EntityKind = "tag"
)

// IsValid reports whether k is a known entity kind.
func (k EntityKind) IsValid() bool {
	switch k {
	case EntityCategory, EntityBeneficiary, EntityAccount, EntityTag:
		return true
	}
	return false
}

// Entity is a category, beneficiary, account or tag owned by a workspace.
type Entity struct {
	ID          string     `json:"id" csv:"id"`
	WorkspaceID string     `json:"workspace_id" csv:"workspace_id"`
	Kind        EntityKind `json:"kind" csv:"kind"`
	Name        string     `json:"name" csv:"name"`
}

// Ref returns the lightweight reference to e.
func (e Entity) Ref() EntityRef {
	return EntityRef{ID: e.ID, Name: e.Name}
}

// EntityRef is a resolved reference carried by transactions, conditions
// and actions.
type EntityRef struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Label returns the name, falling back to the id.
func (r EntityRef) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}
