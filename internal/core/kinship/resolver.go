package kinship

import (
	"fmt"
	"strings"

	"github.com/famlinks/kinship/internal/catalog"
	"github.com/famlinks/kinship/internal/model"
)

// Resolver renders a classification as a kin term in a given locale.
// Exact path expressions are looked up in the catalog's term table;
// anything the table does not name falls back to a computed generic
// degree/removal label, then to a generic relative term.
type Resolver struct {
	cat *catalog.Catalog
}

func NewResolver(cat *catalog.Catalog) *Resolver {
	return &Resolver{cat: cat}
}

// Label names person B from A's point of view. gender is B's gender.
func (r *Resolver) Label(c model.Classification, locale catalog.Locale, gender model.Gender) string {
	table := r.cat.Terms(locale)

	expr := r.expression(c)
	if expr != "" && table != nil {
		if term, ok := table.Lookup(expr, gender); ok {
			// A bare sibling expression carries no shared-parent info, so
			// the half flag has to be spelled out here.
			if c.Half && isSiblingExpr(expr) {
				term = table.HalfPrefix.For(gender) + term
			}
			return r.decorate(c, table, term, gender)
		}
	}

	var term string
	switch locale {
	case catalog.LocaleRU:
		term = genericRU(c, gender)
	default:
		term = genericEN(c, gender)
	}
	if table != nil {
		term = r.decorate(c, table, term, gender)
	}
	return term
}

// expression builds the dot-joined kin path expression from the literal
// path. Adjacent up/down hops through the shared ancestor contract into
// a sibling step ("father.father.son" becomes "father.brother"), except
// for half siblings, whose shared parent stays in the expression.
func (r *Resolver) expression(c model.Classification) string {
	if len(c.Path) == 0 {
		return ""
	}
	rels := make([]string, len(c.Path))
	for i, s := range c.Path {
		rels[i] = s.Rel
	}
	if !(c.Kind == model.RelationSibling && c.Half) {
		rels = contractApex(rels)
	}
	return strings.Join(rels, ".")
}

func (r *Resolver) decorate(c model.Classification, table *catalog.TermTable, term string, gender model.Gender) string {
	if c.Ex {
		term = table.ExPrefix.For(gender) + term
	}
	return term
}

func contractApex(rels []string) []string {
	for i := 0; i+1 < len(rels); i++ {
		if isUpRel(rels[i]) && isDownRel(rels[i+1]) {
			out := append([]string{}, rels[:i]...)
			out = append(out, siblingFromDown(rels[i+1]))
			return append(out, rels[i+2:]...)
		}
	}
	return rels
}

func isUpRel(rel string) bool {
	return rel == "father" || rel == "mother" || rel == "parent"
}

func isDownRel(rel string) bool {
	return rel == "son" || rel == "daughter" || rel == "child"
}

func isSiblingExpr(expr string) bool {
	return expr == "brother" || expr == "sister" || expr == "sibling"
}

func siblingFromDown(rel string) string {
	switch rel {
	case "son":
		return "brother"
	case "daughter":
		return "sister"
	}
	return "sibling"
}

func genericEN(c model.Classification, g model.Gender) string {
	suffix := ""
	if c.InLaw {
		suffix = "-in-law"
	}

	switch c.Kind {
	case model.RelationUnrelated:
		return "no known relation"
	case model.RelationUnknown:
		return "possible relative beyond search depth"
	case model.RelationSpouse:
		return pick(g, "husband", "wife", "spouse")
	case model.RelationDirect:
		n := abs(c.GenerationOffset)
		var base string
		if c.GenerationOffset > 0 {
			base = pick(g, "father", "mother", "parent")
		} else {
			base = pick(g, "son", "daughter", "child")
		}
		if n <= 1 {
			return base + suffix
		}
		return strings.Repeat("great-", n-2) + "grand" + base + suffix
	case model.RelationSibling:
		base := pick(g, "brother", "sister", "sibling")
		if c.Half {
			base = "half-" + base
		}
		return base + suffix
	case model.RelationCollateral:
		if c.CousinDegree == 0 {
			r := c.CousinRemoved
			var base string
			if c.GenerationOffset > 0 {
				base = pick(g, "uncle", "aunt", "uncle or aunt")
			} else {
				base = pick(g, "nephew", "niece", "nephew or niece")
			}
			if r <= 1 {
				return base + suffix
			}
			return strings.Repeat("great-", r-2) + "grand" + base + suffix
		}
		name := ordinalEN(c.CousinDegree) + " cousin"
		switch c.CousinRemoved {
		case 0:
		case 1:
			name += " once removed"
		case 2:
			name += " twice removed"
		default:
			name += fmt.Sprintf(" %d times removed", c.CousinRemoved)
		}
		return name + suffix
	}
	return "relative"
}

func genericRU(c model.Classification, g model.Gender) string {
	suffix := ""
	if c.InLaw {
		suffix = " по браку"
	}

	switch c.Kind {
	case model.RelationUnrelated:
		return "нет родства"
	case model.RelationUnknown:
		return "возможный дальний родственник"
	case model.RelationSpouse:
		return pick(g, "муж", "жена", "супруг")
	case model.RelationDirect:
		n := abs(c.GenerationOffset)
		if c.GenerationOffset > 0 {
			switch n {
			case 1:
				return pick(g, "отец", "мать", "родитель") + suffix
			default:
				return strings.Repeat("пра", n-2) + pick(g, "дед", "бабушка", "предок") + suffix
			}
		}
		switch n {
		case 1:
			return pick(g, "сын", "дочь", "ребёнок") + suffix
		default:
			return strings.Repeat("пра", n-2) + pick(g, "внук", "внучка", "потомок") + suffix
		}
	case model.RelationSibling:
		base := pick(g, "брат", "сестра", "брат или сестра")
		if c.Half {
			if g == model.GenderFemale {
				base = "сводная " + base
			} else {
				base = "сводный " + base
			}
		}
		return base + suffix
	case model.RelationCollateral:
		var noun string
		switch {
		case c.CousinRemoved == 0:
			noun = pick(g, "брат", "сестра", "брат или сестра")
		case c.GenerationOffset > 0:
			noun = pick(g, "дядя", "тётя", "дядя или тётя")
		default:
			noun = pick(g, "племянник", "племянница", "племянник или племянница")
		}
		if c.CousinDegree == 0 {
			return noun + suffix
		}
		return ruOrdinalAdj(c.CousinDegree, g) + " " + noun + suffix
	}
	return "родственник"
}

// ruOrdinalAdj names the cousin degree: 1 is двоюродный, 2 троюродный
// and so on, agreed with the labeled person's gender.
func ruOrdinalAdj(degree int, g model.Gender) string {
	var stem string
	switch degree {
	case 1:
		stem = "двоюродн"
	case 2:
		stem = "троюродн"
	case 3:
		stem = "четвероюродн"
	case 4:
		stem = "пятиюродн"
	default:
		stem = fmt.Sprintf("%d-юродн", degree+1)
	}
	if g == model.GenderFemale {
		return stem + "ая"
	}
	return stem + "ый"
}

func ordinalEN(n int) string {
	switch n {
	case 1:
		return "first"
	case 2:
		return "second"
	case 3:
		return "third"
	case 4:
		return "fourth"
	case 5:
		return "fifth"
	case 6:
		return "sixth"
	case 7:
		return "seventh"
	case 8:
		return "eighth"
	case 9:
		return "ninth"
	}
	return fmt.Sprintf("%dth", n)
}

func pick(g model.Gender, male, female, neutral string) string {
	switch g {
	case model.GenderMale:
		return male
	case model.GenderFemale:
		return female
	}
	return neutral
}
