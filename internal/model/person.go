package model

import "time"

type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

type Person struct {
	ID         string     `json:"id"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	MaidenName string     `json:"maiden_name,omitempty"`
	MiddleName string     `json:"middle_name,omitempty"`
	Gender     Gender     `json:"gender"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
	DeathDate  *time.Time `json:"death_date,omitempty"`
	BirthPlace string     `json:"birth_place,omitempty"`
	DeathPlace string     `json:"death_place,omitempty"`
	IsLiving   bool       `json:"is_living"`
	CreatedAt  time.Time  `json:"created_at"`

	// MergedIntoID is set when this profile was confirmed as a duplicate
	// and folded into another. The record is kept so stored edges and
	// audit history never dangle.
	MergedIntoID string `json:"merged_into_id,omitempty"`
}

// Deceased reports whether the profile is marked dead, either explicitly
// or via a recorded death date.
func (p Person) Deceased() bool {
	return !p.IsLiving || p.DeathDate != nil
}

// FullName renders "First Middle Last" skipping empty parts.
func (p Person) FullName() string {
	name := p.FirstName
	if p.MiddleName != "" {
		if name != "" {
			name += " "
		}
		name += p.MiddleName
	}
	if p.LastName != "" {
		if name != "" {
			name += " "
		}
		name += p.LastName
	}
	return name
}
