package handlers

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/events"
	"github.com/creatuluw/exploring.fyi-sub000/domain/streaming"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// fakeTopics is an in-memory TopicRepository.
type fakeTopics struct {
	mu        sync.Mutex
	topics    []*entities.Topic
	deleteErr error
}

func (r *fakeTopics) GetByID(ctx context.Context, id string) (*entities.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, pkgerrors.ErrTopicNotFound
}

func (r *fakeTopics) FindBySlug(ctx context.Context, scope, slug string) (*entities.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t.Scope == scope && t.Slug == slug {
			return t, nil
		}
	}
	return nil, pkgerrors.ErrTopicNotFound
}

func (r *fakeTopics) FindByTitle(ctx context.Context, scope, normalizedTitle string) (*entities.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t.Scope == scope && t.NormalizedTitle() == normalizedTitle {
			return t, nil
		}
	}
	return nil, pkgerrors.ErrTopicNotFound
}

func (r *fakeTopics) SlugExists(ctx context.Context, scope, slug string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t.Scope == scope && t.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTopics) Create(ctx context.Context, topic *entities.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t.Scope == topic.Scope && t.Slug == topic.Slug {
			return pkgerrors.NewDomainError(pkgerrors.DomainConflictError, "TOPIC_EXISTS", "topic already exists")
		}
	}
	r.topics = append(r.topics, topic)
	return nil
}

func (r *fakeTopics) Update(ctx context.Context, topic *entities.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.topics {
		if t.ID == topic.ID {
			r.topics[i] = topic
			return nil
		}
	}
	return pkgerrors.ErrTopicNotFound
}

func (r *fakeTopics) ListByScope(ctx context.Context, scope string, criteria ports.ListCriteria) ([]*entities.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Topic
	for _, t := range r.topics {
		if t.Scope == scope {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTopics) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	for i, t := range r.topics {
		if t.ID == id {
			r.topics = append(r.topics[:i], r.topics[i+1:]...)
			return nil
		}
	}
	return pkgerrors.ErrTopicNotFound
}

// storedRow is one persisted mind map in the fake repo.
type storedRow struct {
	id        string
	topicID   string
	topicSlug string
	title     string
	graph     *versioning.StoredGraph
	version   int
	updatedAt time.Time
}

// fakeMaps is an in-memory MindMapRepository with the same
// conditional-write semantics as the real one.
type fakeMaps struct {
	mu            sync.Mutex
	rows          []*storedRow
	onUpdateGraph func(mapID string, expectedVersion int) error
}

func (r *fakeMaps) rebuild(row *storedRow) (*aggregates.MindMap, error) {
	ts := row.updatedAt.Format(time.RFC3339)
	return aggregates.ReconstructMindMap(
		row.id, row.topicID, row.topicSlug, row.title,
		row.graph.Nodes, row.graph.Edges, row.graph.Chapters, row.graph.Sections,
		row.graph.Status, ts, ts, row.version, nil,
	)
}

func (r *fakeMaps) GetByID(ctx context.Context, id string) (*aggregates.MindMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.id == id {
			return r.rebuild(row)
		}
	}
	return nil, pkgerrors.ErrMindMapNotFound
}

func (r *fakeMaps) GetLiveByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.topicID == topicID && row.graph.Status == aggregates.StatusLive {
			return r.rebuild(row)
		}
	}
	return nil, pkgerrors.ErrMindMapNotFound
}

func (r *fakeMaps) GetLatestByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *storedRow
	for _, row := range r.rows {
		if row.topicID == topicID && (latest == nil || row.updatedAt.After(latest.updatedAt)) {
			latest = row
		}
	}
	if latest == nil {
		return nil, pkgerrors.ErrMindMapNotFound
	}
	return r.rebuild(latest)
}

func (r *fakeMaps) Create(ctx context.Context, m *aggregates.MindMap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Status() == aggregates.StatusLive {
		for _, row := range r.rows {
			if row.topicID == m.TopicID() && row.graph.Status == aggregates.StatusLive {
				return pkgerrors.ErrLiveMindMapExists
			}
		}
	}
	r.rows = append(r.rows, &storedRow{
		id:        m.ID().String(),
		topicID:   m.TopicID(),
		topicSlug: m.TopicSlug(),
		title:     m.Title(),
		graph: &versioning.StoredGraph{
			Status:   m.Status(),
			Nodes:    m.Nodes(),
			Edges:    m.Edges(),
			Chapters: m.Chapters(),
			Sections: m.Sections(),
		},
		version:   1,
		updatedAt: time.Now(),
	})
	return nil
}

func (r *fakeMaps) UpdateGraph(ctx context.Context, mapID string, graph *versioning.StoredGraph, expectedVersion int) error {
	if r.onUpdateGraph != nil {
		if err := r.onUpdateGraph(mapID, expectedVersion); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.id != mapID {
			continue
		}
		if row.version != expectedVersion {
			return pkgerrors.ErrConcurrentModification
		}
		row.graph = graph
		row.version++
		row.updatedAt = time.Now()
		return nil
	}
	return pkgerrors.ErrMindMapNotFound
}

func (r *fakeMaps) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, row := range r.rows {
		if row.id == id {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return pkgerrors.ErrMindMapNotFound
}

func (r *fakeMaps) DeleteByTopic(ctx context.Context, topicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.topicID != topicID {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

// fakeContent is an in-memory ContentRepository.
type fakeContent struct {
	mu       sync.Mutex
	chapters map[string][]*entities.Chapter
	sections map[string][]*entities.ContentSection
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		chapters: make(map[string][]*entities.Chapter),
		sections: make(map[string][]*entities.ContentSection),
	}
}

func (r *fakeContent) SaveChapters(ctx context.Context, topicID string, chapters []*entities.Chapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chapters[topicID] = chapters
	return nil
}

func (r *fakeContent) SaveSection(ctx context.Context, topicID string, section *entities.ContentSection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sections[topicID] {
		if s.ID == section.ID {
			r.sections[topicID][i] = section
			return nil
		}
	}
	r.sections[topicID] = append(r.sections[topicID], section)
	return nil
}

func (r *fakeContent) GetChapters(ctx context.Context, topicID string) ([]*entities.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chapters[topicID], nil
}

func (r *fakeContent) GetSections(ctx context.Context, topicID string) ([]*entities.ContentSection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sections[topicID], nil
}

func (r *fakeContent) DeleteByTopic(ctx context.Context, topicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chapters, topicID)
	delete(r.sections, topicID)
	return nil
}

// fakeChecks is an in-memory CheckRepository.
type fakeChecks struct {
	mu      sync.Mutex
	records []*entities.Check
}

func (r *fakeChecks) Record(ctx context.Context, check *entities.Check) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, check)
	return nil
}

func (r *fakeChecks) ListByChapter(ctx context.Context, chapterID string) ([]*entities.Check, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Check
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].ChapterID == chapterID {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}

// fakeCache is an in-memory ContentCache.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*versioning.StoredGraph
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*versioning.StoredGraph)}
}

func (c *fakeCache) Get(ctx context.Context, key string) (*versioning.StoredGraph, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.entries[key]
	return g, ok
}

func (c *fakeCache) Put(ctx context.Context, key string, content *versioning.StoredGraph) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = content
	c.puts++
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// fakeLock counts acquisitions and can be set to refuse.
type fakeLock struct {
	mu       sync.Mutex
	held     map[string]string
	refuse   bool
	acquires int
	releases int
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: make(map[string]string)}
}

func (l *fakeLock) Acquire(ctx context.Context, resourceID, ownerID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refuse {
		return false, nil
	}
	if _, taken := l.held[resourceID]; taken {
		return false, nil
	}
	l.held[resourceID] = ownerID
	l.acquires++
	return true, nil
}

func (l *fakeLock) Release(ctx context.Context, resourceID, ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[resourceID] == ownerID {
		delete(l.held, resourceID)
		l.releases++
	}
	return nil
}

// fakeOutbox records appended events.
type fakeOutbox struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (o *fakeOutbox) Append(ctx context.Context, evts []events.DomainEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, evts...)
	return nil
}

func (o *fakeOutbox) FetchPending(ctx context.Context, limit int) ([]ports.OutboxEntry, error) {
	return nil, nil
}

func (o *fakeOutbox) MarkDispatched(ctx context.Context, ids []string) error { return nil }

func (o *fakeOutbox) MarkFailed(ctx context.Context, ids []string) error { return nil }

func (o *fakeOutbox) eventTypes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.GetEventType())
	}
	return out
}

// fakeBackend serves a scripted stream and tracks opens.
type fakeBackend struct {
	mu      sync.Mutex
	stream  []byte
	openErr error
	opens   int
	lastReq ports.GenerationRequest
}

func (b *fakeBackend) Open(ctx context.Context, req ports.GenerationRequest) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	b.lastReq = req
	if b.openErr != nil {
		return nil, b.openErr
	}
	return io.NopCloser(bytes.NewReader(b.stream)), nil
}

func encodeStream(t *testing.T, messages ...streaming.Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, msg := range messages {
		frame, err := streaming.EncodeFrame(msg)
		require.NoError(t, err)
		buf.Write(frame)
	}
	return buf.Bytes()
}

func fullRunMessages() []streaming.Message {
	return []streaming.Message{
		streaming.Metadata{Title: "Photosynthesis", Description: "How plants eat light", Difficulty: "intermediate", Language: "en"},
		streaming.AspectsBatch{Aspects: []streaming.Aspect{
			{Label: "Light reactions", Importance: "high", Expandable: true},
			{Label: "Calvin cycle", Importance: "medium", Expandable: true},
			{Label: "Chlorophyll", Importance: "low"},
		}},
		streaming.Outline{Chapters: []streaming.OutlineChapter{
			{Index: 0, Title: "The light reactions"},
			{Index: 1, Title: "The Calvin cycle"},
		}},
		streaming.ParagraphChunk{ChapterIndex: 0, ParagraphIndex: 0, Title: "Capturing photons", Delta: "Light hits "},
		streaming.ParagraphChunk{ChapterIndex: 0, ParagraphIndex: 0, Delta: "the thylakoid."},
		streaming.ParagraphComplete{ChapterIndex: 0, ParagraphIndex: 0},
		streaming.Complete{},
	}
}
