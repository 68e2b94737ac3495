package valueobjects

import (
	"fmt"
	"math"
	"time"
)

// RootNodeID is the reserved identifier of the single root node every
// mind map carries.
const RootNodeID = "main"

// ConceptNodeID derives a node identifier from the node label and its
// computed position. The rounded coordinates keep two same-label
// siblings in one batch from colliding, while identical inputs always
// produce the identical id.
func ConceptNodeID(label string, pos Position) string {
	slug := Slugify(label)
	if slug == "" {
		slug = "concept"
	}
	return fmt.Sprintf("%s-%d-%d", slug, int(math.Round(pos.X())), int(math.Round(pos.Y())))
}

// EdgeID derives the identifier of a directed parent-to-child edge.
func EdgeID(source, target string) string {
	return fmt.Sprintf("edge-%s-%s", source, target)
}

// ChapterID derives a chapter identifier from its topic slug and index.
// Re-deriving with the same inputs always yields the same id.
func ChapterID(topicSlug string, index int) string {
	return fmt.Sprintf("%s-ch-%d", topicSlug, index)
}

// ParagraphID derives a paragraph identifier from its chapter id and
// index. Idempotent like ChapterID.
func ParagraphID(chapterID string, index int) string {
	return fmt.Sprintf("%s-p-%d", chapterID, index)
}

// CheckID derives an identifier for a comprehension check attempt. The
// timestamp suffix keeps attempts historical rather than idempotent.
func CheckID(chapterID string) string {
	return fmt.Sprintf("%s-check-%d", chapterID, time.Now().UnixMilli())
}
