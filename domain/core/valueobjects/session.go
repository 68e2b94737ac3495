package valueobjects

import (
	"errors"

	"github.com/google/uuid"
)

// DefaultLanguage is used when a caller supplies no language tag.
const DefaultLanguage = "en"

// SessionID is a value object identifying an anonymous browsing session
type SessionID struct {
	value string
}

// NewSessionID creates a new random SessionID
func NewSessionID() SessionID {
	return SessionID{value: uuid.New().String()}
}

// NewSessionIDFromString creates a SessionID from an existing string
func NewSessionIDFromString(id string) (SessionID, error) {
	if id == "" {
		return SessionID{}, errors.New("session ID cannot be empty")
	}
	return SessionID{value: id}, nil
}

// String returns the string representation of the SessionID
func (id SessionID) String() string {
	return id.value
}

// Equals checks if two SessionIDs are equal
func (id SessionID) Equals(other SessionID) bool {
	return id.value == other.value
}

// IsZero checks if the SessionID is the zero value
func (id SessionID) IsZero() bool {
	return id.value == ""
}

// Session carries the ambient request state the pipeline needs. It is
// passed explicitly through every layer; nothing reads it from a
// global.
type Session struct {
	id       SessionID
	language string
}

// NewSession creates a session scope with an explicit language tag
func NewSession(id SessionID, language string) Session {
	if language == "" {
		language = DefaultLanguage
	}
	return Session{id: id, language: language}
}

// ID returns the session identifier
func (s Session) ID() SessionID {
	return s.id
}

// Language returns the language tag content is generated in
func (s Session) Language() string {
	return s.language
}

// Scope returns the string used as uniqueness scope for slugs derived
// within this session.
func (s Session) Scope() string {
	return s.id.String()
}
