package catalog

import (
	"github.com/pelletier/go-toml/v2"

	"github.com/famlinks/kinship/internal/model"
)

// Locale selects a kin-term table. The core defines en and ru; callers
// serialize the returned UTF-8 text themselves.
type Locale string

const (
	LocaleEN Locale = "en"
	LocaleRU Locale = "ru"
)

// Term holds the localized words for one kin path expression, keyed by
// the gender of the person being labeled. Neutral is the fallback when
// the gendered form is missing or the gender is unknown.
type Term struct {
	Male    string `toml:"male"`
	Female  string `toml:"female"`
	Neutral string `toml:"neutral"`
}

// For picks the form matching g, falling back to Neutral, then to
// whichever gendered form exists.
func (t Term) For(g model.Gender) string {
	switch g {
	case model.GenderMale:
		if t.Male != "" {
			return t.Male
		}
	case model.GenderFemale:
		if t.Female != "" {
			return t.Female
		}
	}
	if t.Neutral != "" {
		return t.Neutral
	}
	if t.Male != "" {
		return t.Male
	}
	return t.Female
}

// TermTable maps kin path expressions ("mother.brother", "wife.father")
// to localized terms. Expressions are produced by the resolver from the
// classifier's literal path; lookups are exact.
type TermTable struct {
	locale Locale
	terms  map[string]Term

	// ExPrefix and HalfPrefix decorate terms for ex-unions and half
	// relationships when no exact decorated entry exists.
	ExPrefix   Term `toml:"-"`
	HalfPrefix Term `toml:"-"`
}

type termsFile struct {
	Locale     string          `toml:"locale"`
	ExPrefix   Term            `toml:"ex_prefix"`
	HalfPrefix Term            `toml:"half_prefix"`
	Terms      map[string]Term `toml:"terms"`
}

func loadTermTable(raw []byte) (*TermTable, error) {
	var tf termsFile
	if err := toml.Unmarshal(raw, &tf); err != nil {
		return nil, err
	}
	return &TermTable{
		locale:     Locale(tf.Locale),
		terms:      tf.Terms,
		ExPrefix:   tf.ExPrefix,
		HalfPrefix: tf.HalfPrefix,
	}, nil
}

func (t *TermTable) Locale() Locale { return t.locale }

// Lookup returns the term for an exact path expression, rendered for the
// given gender. ok is false when the table has no entry for expr.
func (t *TermTable) Lookup(expr string, g model.Gender) (string, bool) {
	term, ok := t.terms[expr]
	if !ok {
		return "", false
	}
	return term.For(g), true
}
