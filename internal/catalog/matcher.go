package catalog

import (
	"strings"
)

type Kind string

const (
	KindJournal     Kind = "journal"
	KindExperiment  Kind = "experiment"
	KindInstitution Kind = "institution"
)

// Entity is an in-memory catalog entry the matcher indexes. For
// experiments, Subgroups are collaboration subgroup aliases that map to
// the same parent experiment.
type Entity struct {
	ID          string
	Kind        Kind
	DisplayName string
	RefURL      string
	LegacyName  string
	Variants    []string
	Subgroups   []string
	Categories  []string
}

// Candidate is one catalog entry matching a free-text mention. Transient;
// never persisted. MatchedName is the stored alias the lookup hit as
// written in the catalog; for subgroup hits it is the parent's display
// name, since every subgroup candidate matched the same alias text.
type Candidate struct {
	SourceText  string
	EntityID    string
	DisplayName string
	MatchedName string
	RefURL      string
	LegacyName  string
	Categories  []string
	ViaSubgroup bool
}

var trailingPunct = ".,;:!?"

// Normalize case-folds, collapses internal whitespace runs to a single
// space, and strips trailing punctuation. Lookups are exact on the
// normalized form; there is no edit-distance fuzzing.
func Normalize(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	s = strings.ToLower(s)
	for len(s) > 0 && strings.ContainsRune(trailingPunct, rune(s[len(s)-1])) {
		s = strings.TrimSpace(s[:len(s)-1])
	}
	return s
}

// CollapseWhitespace keeps the original casing but squeezes whitespace
// runs; collaboration values are re-normalized with this form before
// matching and stay in it afterwards.
func CollapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// nameEntry ties an indexed alias back to its entity, keeping the alias
// text as stored so ambiguity reporting can name what actually matched.
type nameEntry struct {
	entity *Entity
	name   string
}

// Index holds normalized-name lookups over a set of canonical entities.
// It is immutable after construction and safe for concurrent reads.
type Index struct {
	byName     map[Kind]map[string][]nameEntry
	bySubgroup map[string][]*Entity
}

func NewIndex(entities []Entity) *Index {
	idx := &Index{
		byName:     map[Kind]map[string][]nameEntry{},
		bySubgroup: map[string][]*Entity{},
	}
	for i := range entities {
		e := &entities[i]
		names := append([]string{e.DisplayName}, e.Variants...)
		for _, n := range names {
			key := Normalize(n)
			if key == "" {
				continue
			}
			m := idx.byName[e.Kind]
			if m == nil {
				m = map[string][]nameEntry{}
				idx.byName[e.Kind] = m
			}
			if !containsEntry(m[key], e) {
				m[key] = append(m[key], nameEntry{entity: e, name: n})
			}
		}
		for _, sg := range e.Subgroups {
			key := Normalize(sg)
			if key == "" {
				continue
			}
			if !containsEntity(idx.bySubgroup[key], e) {
				idx.bySubgroup[key] = append(idx.bySubgroup[key], e)
			}
		}
	}
	return idx
}

// Match returns every distinct canonical entity whose name or variant
// equals the normalized text. Multiple ids constitute ambiguity and are
// all returned, never collapsed.
func (idx *Index) Match(kind Kind, text string) []Candidate {
	key := Normalize(text)
	if key == "" {
		return nil
	}
	m := idx.byName[kind]
	if m == nil {
		return nil
	}
	entries := m[key]
	if len(entries) == 0 {
		return nil
	}
	out := make([]Candidate, 0, len(entries))
	for _, entry := range entries {
		c := newCandidate(entry.entity, text, false)
		c.MatchedName = entry.name
		out = append(out, c)
	}
	return out
}

// MatchSubgroups matches experiment subgroup aliases. Distinct parent
// experiments sharing a subgroup alias are subgroup-level ambiguity.
func (idx *Index) MatchSubgroups(text string) []Candidate {
	key := Normalize(text)
	if key == "" {
		return nil
	}
	return candidates(idx.bySubgroup[key], text, true)
}

func candidates(entities []*Entity, source string, viaSubgroup bool) []Candidate {
	if len(entities) == 0 {
		return nil
	}
	out := make([]Candidate, 0, len(entities))
	for _, e := range entities {
		out = append(out, newCandidate(e, source, viaSubgroup))
	}
	return out
}

func newCandidate(e *Entity, source string, viaSubgroup bool) Candidate {
	return Candidate{
		SourceText:  source,
		EntityID:    e.ID,
		DisplayName: e.DisplayName,
		MatchedName: e.DisplayName,
		RefURL:      e.RefURL,
		LegacyName:  e.LegacyName,
		Categories:  e.Categories,
		ViaSubgroup: viaSubgroup,
	}
}

func containsEntry(list []nameEntry, e *Entity) bool {
	for _, x := range list {
		if x.entity.ID == e.ID {
			return true
		}
	}
	return false
}

func containsEntity(list []*Entity, e *Entity) bool {
	for _, x := range list {
		if x.ID == e.ID {
			return true
		}
	}
	return false
}
