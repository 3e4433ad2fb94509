// Package catalog holds the read-only reference data the classifier and
// resolver consult: the relationship-type catalog and the per-locale
// kin-term tables. Both ship as embedded TOML and never mutate at runtime.
package catalog

import (
	"embed"
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/famlinks/kinship/internal/model"
)

//go:embed data/*.toml
var dataFS embed.FS

// Well-known type codes used by the traversal and classifier. Additional
// codes may exist in the catalog; these four are required.
const (
	TypeParent  = "parent"
	TypeChild   = "child"
	TypeSpouse  = "spouse"
	TypeSibling = "sibling"
)

type Catalog struct {
	types map[string]model.RelationshipType
	terms map[Locale]*TermTable
}

type typesFile struct {
	Types []model.RelationshipType `toml:"types"`
}

// Load builds a catalog from raw TOML. Directed types must declare an
// inverse that exists and points back; symmetric types must not.
func Load(typesTOML []byte, termTables map[Locale][]byte) (*Catalog, error) {
	var tf typesFile
	if err := toml.Unmarshal(typesTOML, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse relationship types: %w", err)
	}

	c := &Catalog{
		types: make(map[string]model.RelationshipType, len(tf.Types)),
		terms: make(map[Locale]*TermTable, len(termTables)),
	}
	for _, rt := range tf.Types {
		if rt.Code == "" {
			return nil, fmt.Errorf("relationship type with empty code")
		}
		if _, dup := c.types[rt.Code]; dup {
			return nil, fmt.Errorf("duplicate relationship type code %q", rt.Code)
		}
		c.types[rt.Code] = rt
	}
	for code, rt := range c.types {
		if rt.IsDirected {
			inv, ok := c.types[rt.InverseCode]
			if !ok {
				return nil, fmt.Errorf("type %q declares unknown inverse %q", code, rt.InverseCode)
			}
			if inv.InverseCode != code {
				return nil, fmt.Errorf("inverse of %q does not point back (%q -> %q)", code, rt.InverseCode, inv.InverseCode)
			}
		} else if rt.InverseCode != "" {
			return nil, fmt.Errorf("symmetric type %q must not declare an inverse", code)
		}
	}

	for locale, raw := range termTables {
		table, err := loadTermTable(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s kin terms: %w", locale, err)
		}
		c.terms[locale] = table
	}
	return c, nil
}

// Default loads the catalog shipped with the binary.
func Default() (*Catalog, error) {
	typesTOML, err := dataFS.ReadFile("data/relationship_types.toml")
	if err != nil {
		return nil, err
	}
	enTOML, err := dataFS.ReadFile("data/kin_terms_en.toml")
	if err != nil {
		return nil, err
	}
	ruTOML, err := dataFS.ReadFile("data/kin_terms_ru.toml")
	if err != nil {
		return nil, err
	}
	return Load(typesTOML, map[Locale][]byte{LocaleEN: enTOML, LocaleRU: ruTOML})
}

// Type returns the catalog entry for code.
func (c *Catalog) Type(code string) (model.RelationshipType, bool) {
	rt, ok := c.types[code]
	return rt, ok
}

// IsValidType reports whether code is a storable edge type.
func (c *Catalog) IsValidType(code string) bool {
	_, ok := c.types[code]
	return ok
}

// Inverse returns the inverse code for a directed type, or "" for
// symmetric types.
func (c *Catalog) Inverse(code string) string {
	rt, ok := c.types[code]
	if !ok || !rt.IsDirected {
		return ""
	}
	return rt.InverseCode
}

// Terms returns the kin-term table for locale, or nil if the locale is
// not loaded.
func (c *Catalog) Terms(locale Locale) *TermTable {
	return c.terms[locale]
}
