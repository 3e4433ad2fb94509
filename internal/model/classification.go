package model

// RelationKind is the coarse shape of a classified pair. Degree, removal
// and generation offset refine it.
type RelationKind string

const (
	// RelationUnrelated means no connection was found within the depth bound.
	RelationUnrelated RelationKind = "unrelated"
	// RelationUnknown means traversal hit the depth bound before resolving;
	// the pair may still be related deeper than the configured limit.
	RelationUnknown RelationKind = "unknown"
	RelationSpouse  RelationKind = "spouse"
	// RelationDirect is a direct ancestor/descendant line (parent,
	// grandparent, ...). GenerationOffset gives distance and direction.
	RelationDirect  RelationKind = "direct"
	RelationSibling RelationKind = "sibling"
	// RelationCollateral covers everything reached through a shared
	// ancestor that is not direct line or sibling: cousins of any degree
	// and removal, including degree 0 (uncle/aunt and nephew/niece lines).
	RelationCollateral RelationKind = "collateral"
)

// PathStep is one hop of a kinship path. Rel names the person's role
// relative to the previous node ("mother", "son", "wife", ...).
type PathStep struct {
	PersonID string `json:"person_id"`
	Rel      string `json:"rel"`
}

// CommonAncestor is one shared ancestor with the minimum depth observed
// from each side.
type CommonAncestor struct {
	ID         string `json:"id"`
	DepthFromA int    `json:"depth_from_a"`
	DepthFromB int    `json:"depth_from_b"`
}

// Classification is the result of classifying the pair (A, B). It reads
// from A's point of view: a RelationDirect with GenerationOffset 2 says
// B is A's grandparent.
type Classification struct {
	A    string       `json:"a"`
	B    string       `json:"b"`
	Kind RelationKind `json:"kind"`

	// GenerationOffset is depth_from_a - depth_from_b to the nearest
	// common ancestor. Positive when B sits closer to the ancestor,
	// i.e. in an older generation than A.
	GenerationOffset int `json:"generation_offset"`

	// CousinDegree/CousinRemoved are set for RelationCollateral.
	CousinDegree  int `json:"cousin_degree,omitempty"`
	CousinRemoved int `json:"cousin_removed,omitempty"`

	Half  bool `json:"half,omitempty"`
	InLaw bool `json:"in_law,omitempty"`
	Ex    bool `json:"is_ex,omitempty"`

	// Path walks from A to B through the nearest common ancestor (or the
	// union edge for spouses). A itself is not a step.
	Path []PathStep `json:"path,omitempty"`

	// CommonAncestors holds the ancestor couple the classification was
	// derived from. AlternateAncestors lists further shared ancestors
	// (pedigree collapse); the closest relationship wins but the extra
	// paths are never silently discarded.
	CommonAncestors    []CommonAncestor `json:"common_ancestors,omitempty"`
	AlternateAncestors []CommonAncestor `json:"alternate_ancestors,omitempty"`
}

// Swapped returns the same relationship read from B's point of view.
func (c Classification) Swapped() Classification {
	out := c
	out.A, out.B = c.B, c.A
	out.GenerationOffset = -c.GenerationOffset
	out.CommonAncestors = swapAncestors(c.CommonAncestors)
	out.AlternateAncestors = swapAncestors(c.AlternateAncestors)
	out.Path = nil // the literal path is directional; recompute if needed
	return out
}

func swapAncestors(in []CommonAncestor) []CommonAncestor {
	if in == nil {
		return nil
	}
	out := make([]CommonAncestor, len(in))
	for i, ca := range in {
		out[i] = CommonAncestor{ID: ca.ID, DepthFromA: ca.DepthFromB, DepthFromB: ca.DepthFromA}
	}
	return out
}
