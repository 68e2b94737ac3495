package commands

import (
	"errors"

	"github.com/creatuluw/exploring.fyi-sub000/domain/core/valueobjects"
)

// ExpandNodeCommand requests an append-only expansion under one
// expandable node of an existing map. Expansion works on sealed maps;
// it is the only mutation a sealed map accepts.
type ExpandNodeCommand struct {
	TopicID   string `json:"topicId" validate:"required"`
	NodeID    string `json:"nodeId" validate:"required"`
	SessionID string `json:"sessionId" validate:"required"`
}

// Validate validates the command
func (cmd ExpandNodeCommand) Validate() error {
	if cmd.TopicID == "" {
		return errors.New("topic ID is required")
	}
	if cmd.NodeID == "" {
		return errors.New("node ID is required")
	}
	if cmd.NodeID == valueobjects.RootNodeID {
		return errors.New("the root node cannot be expanded")
	}
	if cmd.SessionID == "" {
		return errors.New("session ID is required")
	}
	return nil
}
