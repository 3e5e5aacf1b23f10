package canvas

// EdgeType is the relation an edge expresses
type EdgeType string

const (
	EdgeTypeImplies     EdgeType = "implies"
	EdgeTypeReferences  EdgeType = "references"
	EdgeTypeUses        EdgeType = "uses"
	EdgeTypeContradicts EdgeType = "contradicts"
	EdgeTypeGeneralizes EdgeType = "generalizes"
)

// Edge is a directed relation between two nodes of the same graph
type Edge struct {
	ID   string   `json:"id" validate:"max=128"`
	From string   `json:"from" validate:"required,max=128"`
	To   string   `json:"to" validate:"required,max=128"`
	Type EdgeType `json:"type,omitempty" validate:"omitempty,oneof=implies references uses contradicts generalizes"`
}

// Touches reports whether the edge is incident to node id
func (e Edge) Touches(id string) bool {
	return e.From == id || e.To == id
}

// Validate checks field rules and returns a typed validation error
func (e Edge) Validate() error {
	return ValidationError(validate.Struct(e))
}
