package entities

import (
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/valueobjects"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// Edge is a directed parent-to-child connection between two nodes. The
// handle fields name the border anchors the renderer routes the edge
// through.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle"`
	TargetHandle string `json:"targetHandle"`
}

// NewEdge creates an edge from a parent node to a child node
func NewEdge(source, target, sourceHandle, targetHandle string) (*Edge, error) {
	if source == "" || target == "" {
		return nil, pkgerrors.ErrOrphanNode
	}
	if source == target {
		return nil, pkgerrors.ErrSelfReferentialEdge
	}

	return &Edge{
		ID:           valueobjects.EdgeID(source, target),
		Source:       source,
		Target:       target,
		SourceHandle: sourceHandle,
		TargetHandle: targetHandle,
	}, nil
}

// Clone returns a copy of the edge
func (e *Edge) Clone() *Edge {
	clone := *e
	return &clone
}
