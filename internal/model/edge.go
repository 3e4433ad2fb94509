package model

import "time"

// Relationship type categories. The catalog assigns one to every type code.
type TypeCategory string

const (
	CategoryParentChild    TypeCategory = "parent-child"
	CategoryUnion          TypeCategory = "union"
	CategorySiblingDerived TypeCategory = "sibling-derived"
)

// RelationshipType is a read-only catalog entry describing a storable
// edge type. Directed types declare the code of their inverse so the
// store can write both halves atomically.
type RelationshipType struct {
	Code        string       `json:"code" toml:"code"`
	Category    TypeCategory `json:"category" toml:"category"`
	IsDirected  bool         `json:"is_directed" toml:"is_directed"`
	IsSymmetric bool         `json:"is_symmetric" toml:"is_symmetric"`
	InverseCode string       `json:"default_inverse_code,omitempty" toml:"inverse"`
}

// EdgeQualifiers carries the optional flags and dates attached to an edge.
// CousinDegree/CousinRemoved are only meaningful on cousin-classified pairs.
type EdgeQualifiers struct {
	Half          bool       `json:"half,omitempty"`
	InLaw         bool       `json:"in_law,omitempty"`
	Ex            bool       `json:"is_ex,omitempty"`
	CousinDegree  int        `json:"cousin_degree,omitempty"`
	CousinRemoved int        `json:"cousin_removed,omitempty"`
	MarriageDate  *time.Time `json:"marriage_date,omitempty"`
	DivorceDate   *time.Time `json:"divorce_date,omitempty"`
	Lineage       string     `json:"lineage,omitempty"`
}

// RelationshipEdge connects two persons. TypeCode names FromID's role
// relative to ToID: a "parent" edge means From is a parent of To.
// Union edges are stored once in canonical endpoint order.
type RelationshipEdge struct {
	ID         string         `json:"id"`
	FromID     string         `json:"from_id"`
	ToID       string         `json:"to_id"`
	TypeCode   string         `json:"type_code"`
	Qualifiers EdgeQualifiers `json:"qualifiers"`
	CreatedAt  time.Time      `json:"created_at"`

	// InverseID links the paired edge written for directed types.
	InverseID string `json:"inverse_id,omitempty"`
}

// Other returns the endpoint opposite to id, or "" if id is not an endpoint.
func (e RelationshipEdge) Other(id string) string {
	switch id {
	case e.FromID:
		return e.ToID
	case e.ToID:
		return e.FromID
	}
	return ""
}
