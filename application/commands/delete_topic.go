package commands

import "errors"

// DeleteTopicCommand removes a topic and everything hanging off it:
// mind maps, chapters, sections and the cached replay entry. Deletion
// is scoped; a topic can only be deleted from within its own scope.
type DeleteTopicCommand struct {
	TopicID   string `json:"topicId" validate:"required"`
	SessionID string `json:"sessionId" validate:"required"`
}

// Validate validates the command
func (cmd DeleteTopicCommand) Validate() error {
	if cmd.TopicID == "" {
		return errors.New("topic ID is required")
	}
	if cmd.SessionID == "" {
		return errors.New("session ID is required")
	}
	return nil
}
