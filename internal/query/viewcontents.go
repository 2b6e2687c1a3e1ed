package query

import (
	"github.com/bmatcuk/doublestar/v4"

	"rerun-core/internal/component"
	"rerun-core/internal/entitypath"
)

// ViewContents restricts which entities/components a multi-entity query
// participates over, matching spec.md §4.4's filter parameter. Patterns
// use doublestar glob syntax ("/camera/**", "/world/points/*") against
// entitypath.Path.String() and component.Descriptor.ComponentName.
type ViewContents struct {
	EntityPatterns    []string
	ComponentPatterns []string
}

// MatchesEntity reports whether path is selected by any EntityPattern. No
// patterns means everything matches.
func (v ViewContents) MatchesEntity(path entitypath.Path) bool {
	if len(v.EntityPatterns) == 0 {
		return true
	}
	target := trimLeadingSlash(path.String())
	for _, pat := range v.EntityPatterns {
		if ok, _ := doublestar.Match(trimLeadingSlash(pat), target); ok {
			return true
		}
	}
	return false
}

// MatchesComponent reports whether desc is selected by any
// ComponentPattern. No patterns means everything matches.
func (v ViewContents) MatchesComponent(desc component.Descriptor) bool {
	if len(v.ComponentPatterns) == 0 {
		return true
	}
	for _, pat := range v.ComponentPatterns {
		if ok, _ := doublestar.Match(pat, desc.ComponentName); ok {
			return true
		}
	}
	return false
}

// FilterEntities returns the subset of entities matching v.
func (v ViewContents) FilterEntities(entities []entitypath.Path) []entitypath.Path {
	if len(v.EntityPatterns) == 0 {
		return entities
	}
	out := entities[:0:0]
	for _, e := range entities {
		if v.MatchesEntity(e) {
			out = append(out, e)
		}
	}
	return out
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}
