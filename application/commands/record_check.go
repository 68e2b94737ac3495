package commands

import "errors"

// RecordCheckCommand records one comprehension check attempt against a
// chapter. Attempts are append-only history; recording never
// overwrites an earlier attempt.
type RecordCheckCommand struct {
	TopicID   string `json:"topicId" validate:"required"`
	ChapterID string `json:"chapterId" validate:"required"`
	SectionID string `json:"sectionId,omitempty"`
	Passed    bool   `json:"passed"`
	Score     int    `json:"score" validate:"gte=0,lte=100"`
	SessionID string `json:"sessionId" validate:"required"`
}

// Validate validates the command
func (cmd RecordCheckCommand) Validate() error {
	if cmd.TopicID == "" {
		return errors.New("topic ID is required")
	}
	if cmd.ChapterID == "" {
		return errors.New("chapter ID is required")
	}
	if cmd.SessionID == "" {
		return errors.New("session ID is required")
	}
	if cmd.Score < 0 || cmd.Score > 100 {
		return errors.New("score must be between 0 and 100")
	}
	return nil
}
