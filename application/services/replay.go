package services

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/valueobjects"
	"github.com/creatuluw/exploring.fyi-sub000/domain/streaming"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// ReplaySource re-emits a stored generation result as a wire stream.
// It satisfies the same FrameSource contract as the live backend, so
// the pipeline and every consumer downstream of it cannot tell a
// replayed run from a fresh one. Frames are paced with short synthetic
// delays to keep the progressive rendering experience intact.
type ReplaySource struct {
	graph    *versioning.StoredGraph
	language string
	cfg      *config.DomainConfig
	logger   *zap.Logger
}

// NewReplaySource wraps a sealed stored graph for replay. Language is
// carried from the owning topic because the stored graph does not
// retain it.
func NewReplaySource(graph *versioning.StoredGraph, language string, cfg *config.DomainConfig, logger *zap.Logger) *ReplaySource {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &ReplaySource{
		graph:    graph,
		language: language,
		cfg:      cfg,
		logger:   logger,
	}
}

// Open implements ports.FrameSource. The request is accepted for
// interface compatibility; the replayed content is fixed at
// construction time.
func (r *ReplaySource) Open(ctx context.Context, req ports.GenerationRequest) (io.ReadCloser, error) {
	if r.graph == nil {
		return nil, pkgerrors.NewValidationError("no stored graph to replay")
	}
	messages, err := r.messages()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go r.stream(ctx, pw, messages)

	r.logger.Debug("replay stream opened",
		zap.String("topic", req.Topic),
		zap.Int("messageCount", len(messages)))
	return pr, nil
}

// stream writes frames to the pipe with pacing. Closing the read end
// or cancelling the context stops the writer.
func (r *ReplaySource) stream(ctx context.Context, pw *io.PipeWriter, messages []streaming.Message) {
	for i, msg := range messages {
		if i > 0 {
			delay := r.cfg.ReplayFrameDelay
			if msg.Type() == streaming.TypeParagraphChunk {
				delay = r.cfg.ReplayChunkDelay
			}
			if err := sleepContext(ctx, delay); err != nil {
				pw.CloseWithError(err)
				return
			}
		}

		frame, err := streaming.EncodeFrame(msg)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := pw.Write(frame); err != nil {
			// Reader went away; nothing left to do.
			return
		}
	}
	pw.Close()
}

// messages reconstructs the wire sequence from the stored graph:
// metadata, one aspects batch per parent in first-seen order, the
// chapter outline, then chunked paragraph content, closed by a
// complete marker. Sections re-chunk at word granularity so the
// concatenated deltas reproduce the stored content byte for byte.
func (r *ReplaySource) messages() ([]streaming.Message, error) {
	root := r.rootNode()
	if root == nil {
		return nil, pkgerrors.ErrMindMapNotFound
	}

	var out []streaming.Message
	out = append(out, streaming.Metadata{
		Title:       root.Label,
		Description: root.Description,
		Language:    r.language,
	})

	out = append(out, r.aspectBatches()...)

	if chapters := r.orderedChapters(); len(chapters) > 0 {
		outline := streaming.Outline{Chapters: make([]streaming.OutlineChapter, 0, len(chapters))}
		for _, ch := range chapters {
			outline.Chapters = append(outline.Chapters, streaming.OutlineChapter{
				Index: ch.Index,
				Title: ch.Title,
			})
		}
		out = append(out, outline)
	}

	for _, section := range r.graph.Sections {
		out = append(out, r.sectionMessages(section)...)
	}

	if r.graph.Status == aggregates.StatusSealed {
		out = append(out, streaming.Complete{})
	}
	return out, nil
}

func (r *ReplaySource) rootNode() *entities.Node {
	for _, n := range r.graph.Nodes {
		if n != nil && n.ID == valueobjects.RootNodeID {
			return n
		}
	}
	return nil
}

// aspectBatches groups concept nodes by parent, preserving the stored
// node order both across and within groups. Runs that streamed a
// single batch per parent replay exactly; runs that split one parent
// across several batches replay merged.
func (r *ReplaySource) aspectBatches() []streaming.Message {
	var parents []string
	grouped := make(map[string][]streaming.Aspect)

	for _, n := range r.graph.Nodes {
		if n == nil || n.ID == valueobjects.RootNodeID {
			continue
		}
		if _, seen := grouped[n.ParentID]; !seen {
			parents = append(parents, n.ParentID)
		}
		grouped[n.ParentID] = append(grouped[n.ParentID], streaming.Aspect{
			Label:       n.Label,
			Description: n.Description,
			Importance:  string(n.Importance),
			Expandable:  n.Expandable,
		})
	}

	out := make([]streaming.Message, 0, len(parents))
	for _, parentID := range parents {
		batch := streaming.AspectsBatch{Aspects: grouped[parentID]}
		if parentID != valueobjects.RootNodeID {
			batch.ParentID = parentID
		}
		out = append(out, batch)
	}
	return out
}

func (r *ReplaySource) orderedChapters() []*entities.Chapter {
	chapters := make([]*entities.Chapter, 0, len(r.graph.Chapters))
	for _, ch := range r.graph.Chapters {
		if ch != nil {
			chapters = append(chapters, ch)
		}
	}
	sort.SliceStable(chapters, func(i, j int) bool {
		return chapters[i].Index < chapters[j].Index
	})
	return chapters
}

func (r *ReplaySource) sectionMessages(section *entities.ContentSection) []streaming.Message {
	if section == nil || section.Content == "" {
		return nil
	}

	chunks := chunkContent(section.Content, r.cfg.ReplayWordsPerChunk)
	out := make([]streaming.Message, 0, len(chunks)+1)
	for i, delta := range chunks {
		chunk := streaming.ParagraphChunk{
			ChapterIndex:   section.ChapterIndex,
			ParagraphIndex: section.ParagraphIndex,
			Delta:          delta,
		}
		if i == 0 {
			chunk.Title = section.Title
		}
		out = append(out, chunk)
	}
	if section.Status == entities.SectionComplete {
		out = append(out, streaming.ParagraphComplete{
			ChapterIndex:   section.ChapterIndex,
			ParagraphIndex: section.ParagraphIndex,
		})
	}
	return out
}

// chunkContent splits content into runs of roughly wordsPerChunk words.
// Every rune lands in exactly one chunk, so concatenating the chunks
// reproduces the input unchanged, whitespace included.
func chunkContent(content string, wordsPerChunk int) []string {
	if content == "" {
		return nil
	}
	if wordsPerChunk < 1 {
		wordsPerChunk = 1
	}

	var chunks []string
	var current strings.Builder
	words := 0
	prevSpace := false

	for _, r := range content {
		isSpace := unicode.IsSpace(r)
		if prevSpace && !isSpace {
			words++
			if words >= wordsPerChunk {
				chunks = append(chunks, current.String())
				current.Reset()
				words = 0
			}
		}
		current.WriteRune(r)
		prevSpace = isSpace
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
