package validators

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/valueobjects"
	"github.com/creatuluw/exploring.fyi-sub000/domain/streaming"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// MessageValidator checks decoded stream messages before they reach
// the reducer. The decoder only guarantees structural JSON validity;
// this layer turns loosely-typed payloads into trusted ones.
type MessageValidator struct {
	maxBatchSize         int
	maxLabelLength       int
	maxDescriptionLength int
	maxChapters          int
	maxParagraphs        int
}

// NewMessageValidator creates a message validator with default limits
func NewMessageValidator() *MessageValidator {
	return NewMessageValidatorWithConfig(nil)
}

// NewMessageValidatorWithConfig creates a message validator bound to
// explicit domain limits
func NewMessageValidatorWithConfig(cfg *config.DomainConfig) *MessageValidator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &MessageValidator{
		maxBatchSize:         24,
		maxLabelLength:       cfg.MaxLabelLength,
		maxDescriptionLength: cfg.MaxDescriptionLength,
		maxChapters:          cfg.MaxChaptersPerTopic,
		maxParagraphs:        cfg.MaxParagraphsPerChapter,
	}
}

// Validate dispatches on the message variant
func (v *MessageValidator) Validate(msg streaming.Message) error {
	switch m := msg.(type) {
	case streaming.Metadata:
		return v.validateMetadata(m)
	case streaming.AspectsBatch:
		return v.validateAspectsBatch(m)
	case streaming.Outline:
		return v.validateOutline(m)
	case streaming.Paragraph:
		return v.validateParagraph(m)
	case streaming.ParagraphChunk:
		return v.validateParagraphRef(m.ChapterIndex, m.ParagraphIndex)
	case streaming.ParagraphComplete:
		return v.validateParagraphRef(m.ChapterIndex, m.ParagraphIndex)
	case streaming.Complete:
		return nil
	case streaming.UpstreamFailure:
		return v.validateFailure(m)
	default:
		return errors.NewDomainError(
			errors.DomainValidationError,
			"UNKNOWN_MESSAGE_TYPE",
			"Message type is not part of the protocol",
		).WithDetail("type", string(msg.Type()))
	}
}

func (v *MessageValidator) validateMetadata(m streaming.Metadata) error {
	if len(m.Description) > v.maxDescriptionLength*2 {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"DESCRIPTION_TOO_LONG",
			"Metadata description exceeds maximum length",
		).WithDetail("actual_length", len(m.Description))
	}
	return nil
}

func (v *MessageValidator) validateAspectsBatch(m streaming.AspectsBatch) error {
	if len(m.Aspects) > v.maxBatchSize {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"BATCH_TOO_LARGE",
			fmt.Sprintf("A batch cannot carry more than %d aspects", v.maxBatchSize),
		).WithDetail("count", len(m.Aspects))
	}

	validationErrors := errors.NewValidationErrors()
	for i, aspect := range m.Aspects {
		field := fmt.Sprintf("aspects[%d]", i)

		if strings.TrimSpace(aspect.Label) == "" {
			validationErrors.Add(field, "label is required")
			continue
		}
		if len(aspect.Label) > v.maxLabelLength {
			validationErrors.Add(field, fmt.Sprintf("label exceeds %d characters", v.maxLabelLength))
		}
		if aspect.Importance != "" && !valueobjects.Importance(aspect.Importance).IsValid() {
			validationErrors.Add(field, "importance must be low, medium or high")
		}
	}

	if validationErrors.HasErrors() {
		return validationErrors
	}
	return nil
}

func (v *MessageValidator) validateOutline(m streaming.Outline) error {
	if len(m.Chapters) == 0 {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"EMPTY_OUTLINE",
			"An outline must carry at least one chapter",
		)
	}
	if len(m.Chapters) > v.maxChapters {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"TOO_MANY_CHAPTERS",
			fmt.Sprintf("An outline cannot carry more than %d chapters", v.maxChapters),
		).WithDetail("count", len(m.Chapters))
	}

	validationErrors := errors.NewValidationErrors()
	seen := make(map[int]bool, len(m.Chapters))
	for i, chapter := range m.Chapters {
		field := fmt.Sprintf("chapters[%d]", i)

		if chapter.Index < 0 {
			validationErrors.Add(field, "index must not be negative")
		}
		if seen[chapter.Index] {
			validationErrors.Add(field, fmt.Sprintf("duplicate chapter index %d", chapter.Index))
		}
		seen[chapter.Index] = true
		if strings.TrimSpace(chapter.Title) == "" {
			validationErrors.Add(field, "title is required")
		}
	}

	if validationErrors.HasErrors() {
		return validationErrors
	}
	return nil
}

func (v *MessageValidator) validateParagraph(m streaming.Paragraph) error {
	if err := v.validateParagraphRef(m.ChapterIndex, m.ParagraphIndex); err != nil {
		return err
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"EMPTY_PARAGRAPH",
			"A full paragraph message must carry content",
		)
	}
	return nil
}

func (v *MessageValidator) validateParagraphRef(chapterIndex, paragraphIndex int) error {
	if chapterIndex < 0 || paragraphIndex < 0 {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"INVALID_PARAGRAPH_REF",
			"Chapter and paragraph indexes must not be negative",
		).WithDetail("chapter_index", chapterIndex).WithDetail("paragraph_index", paragraphIndex)
	}
	if paragraphIndex >= v.maxParagraphs {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"INVALID_PARAGRAPH_REF",
			fmt.Sprintf("Paragraph index exceeds the per-chapter limit of %d", v.maxParagraphs),
		).WithDetail("paragraph_index", paragraphIndex)
	}
	return nil
}

func (v *MessageValidator) validateFailure(m streaming.UpstreamFailure) error {
	if strings.TrimSpace(m.Message) == "" {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"EMPTY_FAILURE",
			"An error message must carry a reason",
		)
	}
	return nil
}

// TopicValidator validates topic-related domain rules
type TopicValidator struct {
	titleMinLength  int
	titleMaxLength  int
	languagePattern *regexp.Regexp
}

// NewTopicValidator creates a topic validator with default rules
func NewTopicValidator() *TopicValidator {
	return &TopicValidator{
		titleMinLength:  1,
		titleMaxLength:  255,
		languagePattern: regexp.MustCompile(`^[a-z]{2,3}(-[A-Z]{2})?$`),
	}
}

// ValidateTitle validates a topic title
func (v *TopicValidator) ValidateTitle(title string) error {
	title = strings.TrimSpace(title)

	if len(title) < v.titleMinLength {
		return errors.ErrTopicTitleRequired
	}
	if len(title) > v.titleMaxLength {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"TOPIC_TITLE_TOO_LONG",
			"Topic title exceeds maximum length",
		).WithDetail("actual_length", len(title)).WithDetail("max_length", v.titleMaxLength)
	}
	return nil
}

// ValidateLanguage validates a BCP 47 style language tag; empty means
// the session default applies
func (v *TopicValidator) ValidateLanguage(language string) error {
	if language == "" {
		return nil
	}
	if !v.languagePattern.MatchString(language) {
		return errors.NewDomainError(
			errors.DomainValidationError,
			"INVALID_LANGUAGE_TAG",
			"Language must be a tag like en, nl or pt-BR",
		).WithDetail("language", language)
	}
	return nil
}

// MindMapValidator validates whole-graph structural rules, used at
// the persistence boundary on snapshots about to be written and on
// rows read back from the store.
type MindMapValidator struct {
	maxNodes int
	maxEdges int
}

// NewMindMapValidator creates a mind map validator with default limits
func NewMindMapValidator() *MindMapValidator {
	return NewMindMapValidatorWithConfig(nil)
}

// NewMindMapValidatorWithConfig creates a mind map validator bound to
// explicit domain limits
func NewMindMapValidatorWithConfig(cfg *config.DomainConfig) *MindMapValidator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &MindMapValidator{
		maxNodes: cfg.MaxNodesPerMap,
		maxEdges: cfg.MaxEdgesPerMap,
	}
}

var validHandles = map[string]bool{
	"top":    true,
	"bottom": true,
	"left":   true,
	"right":  true,
}

// ValidateGraph checks the structural invariants of a node/edge set:
// exactly one root with the reserved id, no orphans, no dangling or
// self-referential edges.
func (v *MindMapValidator) ValidateGraph(nodes []*entities.Node, edges []*entities.Edge) error {
	if len(nodes) > v.maxNodes {
		return errors.ErrNodeLimitExceeded
	}
	if len(edges) > v.maxEdges {
		return errors.NewDomainError(
			errors.DomainBusinessRuleError,
			"EDGE_LIMIT_EXCEEDED",
			"Maximum number of edges in mind map exceeded",
		).WithDetail("current", len(edges)).WithDetail("limit", v.maxEdges)
	}

	validationErrors := errors.NewValidationErrors()

	byID := make(map[string]*entities.Node, len(nodes))
	roots := 0
	for i, node := range nodes {
		field := fmt.Sprintf("nodes[%d]", i)

		if node == nil {
			validationErrors.Add(field, "node is nil")
			continue
		}
		if _, ok := byID[node.ID]; ok {
			validationErrors.Add(field, fmt.Sprintf("duplicate node id %q", node.ID))
			continue
		}
		byID[node.ID] = node

		if node.IsRoot() {
			roots++
			if node.ID != valueobjects.RootNodeID {
				validationErrors.Add(field, fmt.Sprintf("root node must use the reserved id %q", valueobjects.RootNodeID))
			}
		}
	}
	if roots != 1 {
		validationErrors.Add("nodes", fmt.Sprintf("expected exactly one root node, found %d", roots))
	}

	inbound := make(map[string]int, len(nodes))
	for i, edge := range edges {
		field := fmt.Sprintf("edges[%d]", i)

		if edge == nil {
			validationErrors.Add(field, "edge is nil")
			continue
		}
		if edge.Source == edge.Target {
			validationErrors.Add(field, "edge connects a node to itself")
		}
		if _, ok := byID[edge.Source]; !ok {
			validationErrors.Add(field, fmt.Sprintf("edge references missing source %q", edge.Source))
		}
		if _, ok := byID[edge.Target]; !ok {
			validationErrors.Add(field, fmt.Sprintf("edge references missing target %q", edge.Target))
		}
		if !validHandles[edge.SourceHandle] || !validHandles[edge.TargetHandle] {
			validationErrors.Add(field, "edge handles must be top, bottom, left or right")
		}
		inbound[edge.Target]++
	}

	for id, node := range byID {
		if node.IsRoot() {
			continue
		}
		if node.ParentID == "" {
			validationErrors.Add("nodes", fmt.Sprintf("node %q has no parent", id))
			continue
		}
		if _, ok := byID[node.ParentID]; !ok {
			validationErrors.Add("nodes", fmt.Sprintf("node %q references missing parent %q", id, node.ParentID))
		}
		if inbound[id] != 1 {
			validationErrors.Add("nodes", fmt.Sprintf("node %q must have exactly one inbound edge, found %d", id, inbound[id]))
		}
	}

	if validationErrors.HasErrors() {
		return validationErrors
	}
	return nil
}
