// Package streaming defines the wire protocol spoken by the generation
// backend and the buffering decoder that reconstructs typed messages
// from a chunked byte stream. The wire format is a sequence of
// `data: <json>\n\n` frames; each JSON document is a tagged envelope
// whose payload shape depends on the type tag.
package streaming

import (
	"encoding/json"
	"fmt"
)

// MessageType tags the protocol union
type MessageType string

const (
	TypeMetadata          MessageType = "metadata"
	TypeOutline           MessageType = "outline"
	TypeAspectsBatch      MessageType = "aspects_batch"
	TypeParagraph         MessageType = "paragraph"
	TypeParagraphChunk    MessageType = "paragraph_chunk"
	TypeParagraphComplete MessageType = "paragraph_complete"
	TypeComplete          MessageType = "complete"
	TypeError             MessageType = "error"
)

// Message is one decoded protocol message
type Message interface {
	Type() MessageType
}

// Metadata opens a generation run and describes the topic
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Difficulty  string `json:"difficulty,omitempty"`
	Language    string `json:"language,omitempty"`
}

// Type implements Message
func (Metadata) Type() MessageType { return TypeMetadata }

// OutlineChapter is one table-of-contents entry
type OutlineChapter struct {
	Index int    `json:"index"`
	Title string `json:"title"`
}

// Outline carries the table of contents for reading content
type Outline struct {
	Chapters []OutlineChapter `json:"chapters"`
}

// Type implements Message
func (Outline) Type() MessageType { return TypeOutline }

// Aspect is one sibling concept inside a batch
type Aspect struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Importance  string `json:"importance,omitempty"`
	Expandable  bool   `json:"expandable"`
}

// AspectsBatch adds sibling concepts under one parent node. An empty
// ParentID targets the root.
type AspectsBatch struct {
	ParentID string   `json:"parentId,omitempty"`
	Aspects  []Aspect `json:"aspects"`
}

// Type implements Message
func (AspectsBatch) Type() MessageType { return TypeAspectsBatch }

// Paragraph delivers a full reading paragraph in one message
type Paragraph struct {
	ChapterIndex   int    `json:"chapterIndex"`
	ParagraphIndex int    `json:"paragraphIndex"`
	Title          string `json:"title,omitempty"`
	Content        string `json:"content"`
}

// Type implements Message
func (Paragraph) Type() MessageType { return TypeParagraph }

// ParagraphChunk appends a delta to a paragraph under construction
type ParagraphChunk struct {
	ChapterIndex   int    `json:"chapterIndex"`
	ParagraphIndex int    `json:"paragraphIndex"`
	Delta          string `json:"delta"`
	Title          string `json:"title,omitempty"`
}

// Type implements Message
func (ParagraphChunk) Type() MessageType { return TypeParagraphChunk }

// ParagraphComplete finalizes a streamed paragraph
type ParagraphComplete struct {
	ChapterIndex   int `json:"chapterIndex"`
	ParagraphIndex int `json:"paragraphIndex"`
}

// Type implements Message
func (ParagraphComplete) Type() MessageType { return TypeParagraphComplete }

// Complete seals the generation run
type Complete struct{}

// Type implements Message
func (Complete) Type() MessageType { return TypeComplete }

// UpstreamFailure reports a terminal error raised by the backend
type UpstreamFailure struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Type implements Message
func (UpstreamFailure) Type() MessageType { return TypeError }

// envelope is the outer tagged document on the wire
type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses one frame body into its typed message. Unknown type
// tags and malformed payloads are rejected here so the rest of the
// pipeline only ever switches over known variants.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	decodePayload := func(dst interface{}) error {
		if len(env.Payload) == 0 {
			return nil
		}
		return json.Unmarshal(env.Payload, dst)
	}

	var msg Message
	var err error
	switch env.Type {
	case TypeMetadata:
		var m Metadata
		err = decodePayload(&m)
		msg = m
	case TypeOutline:
		var m Outline
		err = decodePayload(&m)
		msg = m
	case TypeAspectsBatch:
		var m AspectsBatch
		err = decodePayload(&m)
		msg = m
	case TypeParagraph:
		var m Paragraph
		err = decodePayload(&m)
		msg = m
	case TypeParagraphChunk:
		var m ParagraphChunk
		err = decodePayload(&m)
		msg = m
	case TypeParagraphComplete:
		var m ParagraphComplete
		err = decodePayload(&m)
		msg = m
	case TypeComplete:
		msg = Complete{}
	case TypeError:
		var m UpstreamFailure
		err = decodePayload(&m)
		msg = m
	case "":
		return nil, fmt.Errorf("missing type tag")
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}

	return msg, nil
}

// Encode serializes a message back into a frame body. Replay uses this
// to emit the exact wire shape a live backend produces.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: m.Type(), Payload: payload})
}

// EncodeFrame wraps an encoded message in the wire framing
func EncodeFrame(m Message) ([]byte, error) {
	body, err := Encode(m)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len(dataPrefix)+len(body)+2)
	frame = append(frame, dataPrefix...)
	frame = append(frame, body...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// IsTerminal reports whether a message ends the stream
func IsTerminal(m Message) bool {
	switch m.Type() {
	case TypeComplete, TypeError:
		return true
	default:
		return false
	}
}
