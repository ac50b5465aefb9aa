package domain

import (
	"time"
)

// NodeType classifies a node's position in a decomposition tree
type NodeType string

const (
	NodeTypeRoot         NodeType = "root"
	NodeTypeIntermediate NodeType = "intermediate"
	NodeTypeAtomic       NodeType = "atomic"
)

// Valid reports whether t is one of the known node types
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeRoot, NodeTypeIntermediate, NodeTypeAtomic:
		return true
	}
	return false
}

// GraphStatus represents the lifecycle state of a decomposition session
type GraphStatus string

const (
	GraphStatusProcessing GraphStatus = "processing"
	GraphStatusComplete   GraphStatus = "complete"
	GraphStatusError      GraphStatus = "error"
)

// Valid reports whether s is one of the known statuses
func (s GraphStatus) Valid() bool {
	switch s {
	case GraphStatusProcessing, GraphStatusComplete, GraphStatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s
func (s GraphStatus) Terminal() bool {
	return s == GraphStatusComplete || s == GraphStatusError
}

// RelationshipType is the kind of a directed edge between two domain terms
type RelationshipType string

const (
	RelationshipRequires      RelationshipType = "requires"
	RelationshipDependsOn     RelationshipType = "depends_on"
	RelationshipEnables       RelationshipType = "enables"
	RelationshipConflictsWith RelationshipType = "conflicts_with"
)

// Valid reports whether r is one of the known relationship types
func (r RelationshipType) Valid() bool {
	switch r {
	case RelationshipRequires, RelationshipDependsOn, RelationshipEnables, RelationshipConflictsWith:
		return true
	}
	return false
}

// NodeMetadata carries the estimates attached to a node
type NodeMetadata struct {
	Complexity            float64 `json:"complexity" validate:"gte=0"`
	Confidence            float64 `json:"confidence" validate:"gte=0,lte=1"`
	DecompositionAttempts int     `json:"decompositionAttempts" validate:"gte=0"`
}

// RequestNode is one node in a decomposition tree.
// ParentID is nil only for the root node.
type RequestNode struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Type        NodeType     `json:"type"`
	ParentID    *string      `json:"parentId,omitempty"`
	Children    []string     `json:"children"`
	Reasoning   string       `json:"reasoning"`
	DomainTerms []string     `json:"domainTerms"`
	CreatedAt   time.Time    `json:"createdAt"`
	Metadata    NodeMetadata `json:"metadata"`
}

// IsRoot reports whether the node is the root of its tree
func (n RequestNode) IsRoot() bool {
	return n.Type == NodeTypeRoot
}

// HasChild reports whether id is among the node's children
func (n RequestNode) HasChild(id string) bool {
	for _, c := range n.Children {
		if c == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the node
func (n RequestNode) Clone() RequestNode {
	out := n
	if n.ParentID != nil {
		p := *n.ParentID
		out.ParentID = &p
	}
	out.Children = append(make([]string, 0, len(n.Children)), n.Children...)
	out.DomainTerms = append(make([]string, 0, len(n.DomainTerms)), n.DomainTerms...)
	return out
}

// DomainTerm is a reusable vocabulary entry
type DomainTerm struct {
	ID         string    `json:"id"`
	Term       string    `json:"term" validate:"required"`
	Definition string    `json:"definition" validate:"required"`
	Domain     string    `json:"domain" validate:"required"`
	Context    []string  `json:"context"`
	UsageCount int       `json:"usageCount" validate:"gte=0"`
	LastUsed   time.Time `json:"lastUsed"`
}

// Clone returns a deep copy of the term
func (t DomainTerm) Clone() DomainTerm {
	out := t
	out.Context = append(make([]string, 0, len(t.Context)), t.Context...)
	return out
}

// ConceptRelationship is a directed, typed edge between two domain terms
type ConceptRelationship struct {
	ID               string           `json:"id"`
	FromTerm         string           `json:"fromTerm" validate:"required"`
	ToTerm           string           `json:"toTerm" validate:"required"`
	RelationshipType RelationshipType `json:"relationshipType" validate:"required,oneof=requires depends_on enables conflicts_with"`
	Strength         float64          `json:"strength"`
	Examples         []string         `json:"examples"`
}

// Clone returns a deep copy of the relationship
func (r ConceptRelationship) Clone() ConceptRelationship {
	out := r
	out.Examples = append(make([]string, 0, len(r.Examples)), r.Examples...)
	return out
}

// GraphSummary provides a summary of node types in a graph
type GraphSummary struct {
	Total        int `json:"total"`
	Root         int `json:"root"`
	Intermediate int `json:"intermediate"`
	Atomic       int `json:"atomic"`
}
