// Package commands defines the write-side operations of the
// application layer. Each command carries its own validation; the
// heavy lifting lives in the handlers.
package commands

import (
	"errors"
	"net/url"
	"strings"

	"github.com/creatuluw/exploring.fyi-sub000/domain/core/validators"
)

// GenerateMindMapCommand requests a full generation run for a topic.
// Repeat requests for a title that already resolved within the scope
// replay the stored result instead of burning another generation.
type GenerateMindMapCommand struct {
	Topic     string `json:"topic" validate:"required,min=1,max=255"`
	SourceURL string `json:"sourceUrl,omitempty" validate:"omitempty,url"`
	Language  string `json:"language,omitempty"`
	SessionID string `json:"sessionId" validate:"required"`

	// ForceRegenerate skips the replay path and opens a fresh
	// generation stream even when a sealed result exists
	ForceRegenerate bool `json:"forceRegenerate,omitempty"`
}

// Validate validates the command
func (cmd GenerateMindMapCommand) Validate() error {
	if cmd.SessionID == "" {
		return errors.New("session ID is required")
	}

	tv := validators.NewTopicValidator()
	if err := tv.ValidateTitle(cmd.Topic); err != nil {
		return err
	}
	if err := tv.ValidateLanguage(cmd.Language); err != nil {
		return err
	}

	if cmd.SourceURL != "" {
		u, err := url.Parse(cmd.SourceURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.New("source URL must be an absolute http(s) URL")
		}
	}
	return nil
}

// NormalizedLanguage returns the language tag with the default applied
func (cmd GenerateMindMapCommand) NormalizedLanguage() string {
	lang := strings.TrimSpace(cmd.Language)
	if lang == "" {
		return "en"
	}
	return lang
}
