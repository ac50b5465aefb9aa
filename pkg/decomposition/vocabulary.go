package decomposition

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

// Vocabulary holds the domain terms nodes refer to and the typed
// relationships between them. It is not safe for concurrent use.
type Vocabulary struct {
	terms         map[string]domain.DomainTerm
	relationships []domain.ConceptRelationship
}

// NewVocabulary creates an empty vocabulary
func NewVocabulary() *Vocabulary {
	return &Vocabulary{
		terms: make(map[string]domain.DomainTerm),
	}
}

// Len returns the number of terms
func (v *Vocabulary) Len() int {
	return len(v.terms)
}

// AddTerm registers a term, assigning an id when none is given
func (v *Vocabulary) AddTerm(term domain.DomainTerm) (domain.DomainTerm, error) {
	const op = "add_term"

	term.Term = strings.TrimSpace(term.Term)
	term.Domain = strings.TrimSpace(term.Domain)
	if err := validate.Struct(term); err != nil {
		return domain.DomainTerm{}, domain.NewInvalidInput(op, formatValidationError(err))
	}

	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	if _, exists := v.terms[term.ID]; exists {
		return domain.DomainTerm{}, domain.NewInvalidState(op, term.ID, "term already defined")
	}

	term = term.Clone()
	v.terms[term.ID] = term
	return term.Clone(), nil
}

// Term returns a copy of the term with the given id
func (v *Vocabulary) Term(id string) (domain.DomainTerm, bool) {
	t, ok := v.terms[id]
	if !ok {
		return domain.DomainTerm{}, false
	}
	return t.Clone(), true
}

// Terms returns all terms ordered by term text, then id
func (v *Vocabulary) Terms() []domain.DomainTerm {
	out := make([]domain.DomainTerm, 0, len(v.terms))
	for _, t := range v.terms {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Term != out[j].Term {
			return out[i].Term < out[j].Term
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reference records one use of a term by a node
func (v *Vocabulary) Reference(id string, at time.Time) error {
	t, ok := v.terms[id]
	if !ok {
		return domain.NewNotFound("reference_term", id, "term not found")
	}
	t.UsageCount++
	t.LastUsed = at
	v.terms[id] = t
	return nil
}

// ReferenceAll references every id or none of them
func (v *Vocabulary) ReferenceAll(ids []string, at time.Time) error {
	for _, id := range ids {
		if _, ok := v.terms[id]; !ok {
			return domain.NewNotFound("reference_term", id, "term not found")
		}
	}
	for _, id := range ids {
		if err := v.Reference(id, at); err != nil {
			return err
		}
	}
	return nil
}

// AddRelationship links two existing terms
func (v *Vocabulary) AddRelationship(rel domain.ConceptRelationship) (domain.ConceptRelationship, error) {
	const op = "add_relationship"

	if err := validate.Struct(rel); err != nil {
		return domain.ConceptRelationship{}, domain.NewInvalidInput(op, formatValidationError(err))
	}
	if _, ok := v.terms[rel.FromTerm]; !ok {
		return domain.ConceptRelationship{}, domain.NewNotFound(op, rel.FromTerm, "from term not found")
	}
	if _, ok := v.terms[rel.ToTerm]; !ok {
		return domain.ConceptRelationship{}, domain.NewNotFound(op, rel.ToTerm, "to term not found")
	}

	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	for _, existing := range v.relationships {
		if existing.ID == rel.ID {
			return domain.ConceptRelationship{}, domain.NewInvalidState(op, rel.ID, "relationship already defined")
		}
	}

	rel = rel.Clone()
	v.relationships = append(v.relationships, rel)
	return rel.Clone(), nil
}

// Relationships returns all relationships in insertion order
func (v *Vocabulary) Relationships() []domain.ConceptRelationship {
	out := make([]domain.ConceptRelationship, len(v.relationships))
	for i, r := range v.relationships {
		out[i] = r.Clone()
	}
	return out
}

// RelationshipsFrom returns the relationships whose source is termID
func (v *Vocabulary) RelationshipsFrom(termID string) []domain.ConceptRelationship {
	var out []domain.ConceptRelationship
	for _, r := range v.relationships {
		if r.FromTerm == termID {
			out = append(out, r.Clone())
		}
	}
	return out
}

// CheckReferences reports node domain terms that the vocabulary does not define
func (v *Vocabulary) CheckReferences(g *domain.RequestGraph) []Violation {
	var out []Violation
	for _, n := range g.Nodes() {
		for _, termID := range n.DomainTerms {
			if _, ok := v.terms[termID]; !ok {
				out = append(out, Violation{
					Code:    ViolationUnknownTerm,
					NodeID:  n.ID,
					Message: fmt.Sprintf("domain term %q is not defined", termID),
				})
			}
		}
	}
	return out
}

type vocabularyRecord struct {
	Terms         []domain.DomainTerm          `json:"terms"`
	Relationships []domain.ConceptRelationship `json:"relationships"`
}

// MarshalJSON encodes terms (sorted) and relationships
func (v *Vocabulary) MarshalJSON() ([]byte, error) {
	rec := vocabularyRecord{
		Terms:         v.Terms(),
		Relationships: v.Relationships(),
	}
	return json.Marshal(rec)
}

// UnmarshalJSON replaces the vocabulary's contents. Relationship endpoints
// must reference decoded terms.
func (v *Vocabulary) UnmarshalJSON(data []byte) error {
	var rec vocabularyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.NewInvalidInput("decode_vocabulary", "malformed vocabulary document").WithCause(err)
	}

	out := NewVocabulary()
	for _, t := range rec.Terms {
		if t.ID == "" {
			return domain.NewInvalidInput("decode_vocabulary", "term without id")
		}
		if _, err := out.AddTerm(t); err != nil {
			return err
		}
	}
	for _, r := range rec.Relationships {
		if _, err := out.AddRelationship(r); err != nil {
			return err
		}
	}

	*v = *out
	return nil
}
