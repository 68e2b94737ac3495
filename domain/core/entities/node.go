package entities

import (
	"strings"
	"unicode/utf8"

	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/valueobjects"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// NodeKind distinguishes the single root from concept nodes
type NodeKind string

const (
	KindRoot    NodeKind = "root"
	KindConcept NodeKind = "concept"
)

// Node is one mind map node. Fields are exported because nodes cross
// the process boundary as-is: progress snapshots, persistence items and
// REST payloads all carry this shape.
type Node struct {
	ID          string                  `json:"id"`
	Kind        NodeKind                `json:"kind"`
	Position    valueobjects.Position   `json:"position"`
	Label       string                  `json:"label"`
	Description string                  `json:"description,omitempty"`
	Level       int                     `json:"level"`
	Expandable  bool                    `json:"expandable"`
	ParentID    string                  `json:"parentId,omitempty"`
	Importance  valueobjects.Importance `json:"importance,omitempty"`
}

// NewRootNode creates the reserved root node of a mind map
func NewRootNode(title string, center valueobjects.Position) (*Node, error) {
	if err := validateLabel(title, nil); err != nil {
		return nil, err
	}

	return &Node{
		ID:         valueobjects.RootNodeID,
		Kind:       KindRoot,
		Position:   center,
		Label:      strings.TrimSpace(title),
		Level:      0,
		Expandable: false,
	}, nil
}

// NewConceptNode creates a concept node under the given parent. The id
// derives from the label and the computed position, so two same-label
// siblings in one batch still get distinct ids.
func NewConceptNode(label, description string, parent *Node, pos valueobjects.Position, importance valueobjects.Importance, expandable bool) (*Node, error) {
	return NewConceptNodeWithConfig(label, description, parent, pos, importance, expandable, nil)
}

// NewConceptNodeWithConfig creates a concept node with explicit limits
func NewConceptNodeWithConfig(label, description string, parent *Node, pos valueobjects.Position, importance valueobjects.Importance, expandable bool, cfg *config.DomainConfig) (*Node, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}

	if err := validateLabel(label, cfg); err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, pkgerrors.ErrOrphanNode
	}
	if utf8.RuneCountInString(description) > cfg.MaxDescriptionLength {
		description = truncateRunes(description, cfg.MaxDescriptionLength)
	}
	if !importance.IsValid() {
		importance = valueobjects.ImportanceMedium
	}

	id := valueobjects.ConceptNodeID(label, pos)
	if id == valueobjects.RootNodeID {
		return nil, pkgerrors.ErrReservedNodeID
	}

	return &Node{
		ID:          id,
		Kind:        KindConcept,
		Position:    pos,
		Label:       strings.TrimSpace(label),
		Description: description,
		Level:       parent.Level + 1,
		Expandable:  expandable,
		ParentID:    parent.ID,
		Importance:  importance,
	}, nil
}

// IsRoot reports whether this is the reserved root node
func (n *Node) IsRoot() bool {
	return n.Kind == KindRoot
}

// WithDescription returns a copy carrying updated description fields.
// Nodes referenced by emitted snapshots are never mutated in place, so
// earlier snapshots stay stable.
func (n *Node) WithDescription(description, difficulty string) *Node {
	clone := *n
	clone.Description = strings.TrimSpace(description)
	if difficulty != "" {
		if clone.Description != "" {
			clone.Description += " (" + difficulty + ")"
		} else {
			clone.Description = difficulty
		}
	}
	return &clone
}

// Clone returns a copy of the node
func (n *Node) Clone() *Node {
	clone := *n
	return &clone
}

func validateLabel(label string, cfg *config.DomainConfig) error {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}

	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return pkgerrors.ErrNodeLabelRequired
	}
	if utf8.RuneCountInString(trimmed) > cfg.MaxLabelLength {
		return pkgerrors.ErrNodeLabelTooLong
	}
	return nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
