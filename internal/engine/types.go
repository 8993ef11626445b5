// Package engine holds the shared domain types and error taxonomy of the
// referral matching engine. Leaf packages (matching, nudge, budget) depend on
// it; it depends on nothing.
package engine

// TagCategory classifies a job tag.
type TagCategory string

const (
	CategorySkill    TagCategory = "SKILL"
	CategoryCompany  TagCategory = "COMPANY"
	CategoryDomain   TagCategory = "DOMAIN"
	CategoryLocation TagCategory = "LOCATION"
)

// ParseTagCategory converts a raw string to a TagCategory, returning an error
// for unknown values.
func ParseTagCategory(s string) (TagCategory, error) {
	c := TagCategory(s)
	switch c {
	case CategorySkill, CategoryCompany, CategoryDomain, CategoryLocation:
		return c, nil
	}
	return "", &InvalidInputError{Field: "category", Reason: "unknown tag category " + s}
}

// JobTag is a single attribute attached to a job. Tags are immutable once
// attached.
type JobTag struct {
	Name     string      `json:"name"`
	Category TagCategory `json:"category"`
}

// Job is the subset of a job posting the engine cares about.
type Job struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Company string   `json:"company"`
	Tags    []JobTag `json:"tags"`
}

// TagsInCategory returns the names of the job's tags in the given category.
func (j Job) TagsInCategory(c TagCategory) []string {
	var names []string
	for _, t := range j.Tags {
		if t.Category == c {
			names = append(names, t.Name)
		}
	}
	return names
}
