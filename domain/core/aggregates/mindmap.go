package aggregates

import (
	"time"

	"github.com/google/uuid"

	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/valueobjects"
	"github.com/creatuluw/exploring.fyi-sub000/domain/events"
	"github.com/creatuluw/exploring.fyi-sub000/domain/layout"
	"github.com/creatuluw/exploring.fyi-sub000/domain/streaming"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// MapID represents a unique mind map identifier
type MapID string

// NewMapID creates a new random MapID
func NewMapID() MapID {
	return MapID(uuid.New().String())
}

// String returns the string representation
func (id MapID) String() string {
	return string(id)
}

// MapStatus tracks where a map sits in its lifecycle
type MapStatus string

const (
	// StatusLive marks a map still accepting stream messages. At most
	// one live map exists per topic.
	StatusLive MapStatus = "live"
	// StatusSealed marks a map closed by a complete message
	StatusSealed MapStatus = "sealed"
	// StatusFailed marks a map whose stream ended with an error; its
	// partial contents are retained
	StatusFailed MapStatus = "failed"
)

// GenerationStep names the pipeline phase a snapshot was taken in
type GenerationStep string

const (
	StepPending  GenerationStep = "pending"
	StepMetadata GenerationStep = "metadata"
	StepAspects  GenerationStep = "aspects"
	StepOutline  GenerationStep = "outline"
	StepContent  GenerationStep = "content"
	StepComplete GenerationStep = "complete"
	StepFailed   GenerationStep = "failed"
)

// ProgressSnapshot is the externally observable unit emitted once per
// applied message. Slices are fresh per snapshot so reference checks
// see a change; node and edge pointers for untouched entities are
// shared between snapshots.
type ProgressSnapshot struct {
	Nodes       []*entities.Node           `json:"nodes"`
	Edges       []*entities.Edge           `json:"edges"`
	Chapters    []*entities.Chapter        `json:"chapters,omitempty"`
	Sections    []*entities.ContentSection `json:"sections,omitempty"`
	CurrentStep GenerationStep             `json:"currentStep"`
	IsComplete  bool                       `json:"isComplete"`
}

// MindMap is the aggregate root for one generated concept graph.
// It is a reducer over the stream protocol: every applied message
// yields a fresh ProgressSnapshot, and messages are applied in the
// exact order the decoder produced them.
type MindMap struct {
	id        MapID
	topicID   string
	topicSlug string
	title     string
	status    MapStatus
	failure   string

	cfg    *config.DomainConfig
	engine *layout.Engine

	nodes        []*entities.Node
	nodeIndex    map[string]int
	edges        []*entities.Edge
	edgeIndex    map[string]int
	chapters     []*entities.Chapter
	sections     []*entities.ContentSection
	sectionIndex map[string]int

	currentStep GenerationStep
	createdAt   time.Time
	updatedAt   time.Time
	version     int
	events      []events.DomainEvent
}

// NewMindMap creates a live mind map for a topic. The reserved root
// node exists from the start; the opening metadata message only fills
// in its description.
func NewMindMap(topicID, topicSlug, title string, cfg *config.DomainConfig) (*MindMap, error) {
	if topicID == "" {
		return nil, pkgerrors.ErrTopicNotFound
	}
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}

	root, err := entities.NewRootNode(title, valueobjects.Position{})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	m := &MindMap{
		id:           NewMapID(),
		topicID:      topicID,
		topicSlug:    topicSlug,
		title:        root.Label,
		status:       StatusLive,
		cfg:          cfg,
		engine:       layout.NewEngine(cfg),
		nodes:        []*entities.Node{root},
		nodeIndex:    map[string]int{root.ID: 0},
		edges:        []*entities.Edge{},
		edgeIndex:    map[string]int{},
		sectionIndex: map[string]int{},
		currentStep:  StepPending,
		createdAt:    now,
		updatedAt:    now,
		version:      1,
		events:       []events.DomainEvent{},
	}

	m.addEvent(events.MindMapStarted{
		BaseEvent: events.BaseEvent{
			AggregateID: m.id.String(),
			EventType:   "mindmap.started",
			Timestamp:   now,
			Version:     1,
		},
		MapID:   m.id.String(),
		TopicID: topicID,
		Title:   m.title,
	})

	return m, nil
}

// ReconstructMindMap recreates a mind map from stored data
func ReconstructMindMap(
	id string,
	topicID string,
	topicSlug string,
	title string,
	nodes []*entities.Node,
	edges []*entities.Edge,
	chapters []*entities.Chapter,
	sections []*entities.ContentSection,
	status MapStatus,
	createdAt string,
	updatedAt string,
	version int,
	cfg *config.DomainConfig,
) (*MindMap, error) {
	if id == "" || topicID == "" {
		return nil, pkgerrors.ErrMindMapNotFound
	}
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if version < 1 {
		version = 1
	}

	created, _ := time.Parse(time.RFC3339, createdAt)
	updated, _ := time.Parse(time.RFC3339, updatedAt)

	m := &MindMap{
		id:           MapID(id),
		topicID:      topicID,
		topicSlug:    topicSlug,
		title:        title,
		status:       status,
		cfg:          cfg,
		engine:       layout.NewEngine(cfg),
		nodes:        make([]*entities.Node, 0, len(nodes)),
		nodeIndex:    make(map[string]int, len(nodes)),
		edges:        make([]*entities.Edge, 0, len(edges)),
		edgeIndex:    make(map[string]int, len(edges)),
		chapters:     chapters,
		sections:     make([]*entities.ContentSection, 0, len(sections)),
		sectionIndex: make(map[string]int, len(sections)),
		createdAt:    created,
		updatedAt:    updated,
		version:      version,
		events:       []events.DomainEvent{},
	}

	for _, node := range nodes {
		if node == nil {
			continue
		}
		m.nodeIndex[node.ID] = len(m.nodes)
		m.nodes = append(m.nodes, node)
	}
	for _, edge := range edges {
		if edge == nil {
			continue
		}
		m.edgeIndex[edge.ID] = len(m.edges)
		m.edges = append(m.edges, edge)
	}
	for _, section := range sections {
		if section == nil {
			continue
		}
		m.sectionIndex[section.ID] = len(m.sections)
		m.sections = append(m.sections, section)
	}

	if _, ok := m.nodeIndex[valueobjects.RootNodeID]; !ok {
		return nil, pkgerrors.ErrMindMapNotFound
	}

	switch status {
	case StatusSealed:
		m.currentStep = StepComplete
	case StatusFailed:
		m.currentStep = StepFailed
	default:
		m.currentStep = StepAspects
	}

	return m, nil
}

// ID returns the map's unique identifier
func (m *MindMap) ID() MapID {
	return m.id
}

// TopicID returns the owning topic's identifier
func (m *MindMap) TopicID() string {
	return m.topicID
}

// TopicSlug returns the owning topic's slug
func (m *MindMap) TopicSlug() string {
	return m.topicSlug
}

// Title returns the root label
func (m *MindMap) Title() string {
	return m.title
}

// Status returns the map's lifecycle status
func (m *MindMap) Status() MapStatus {
	return m.status
}

// IsComplete reports whether the stream's complete message was applied
func (m *MindMap) IsComplete() bool {
	return m.status == StatusSealed
}

// Failure returns the upstream failure reason, empty unless the map
// ended in StatusFailed
func (m *MindMap) Failure() string {
	return m.failure
}

// CurrentStep returns the latest pipeline phase
func (m *MindMap) CurrentStep() GenerationStep {
	return m.currentStep
}

// CreatedAt returns when the map was created
func (m *MindMap) CreatedAt() time.Time {
	return m.createdAt
}

// UpdatedAt returns when the map was last updated
func (m *MindMap) UpdatedAt() time.Time {
	return m.updatedAt
}

// Version returns the aggregate version, incremented per applied
// message; the synchronizer uses it for optimistic concurrency.
func (m *MindMap) Version() int {
	return m.version
}

// NodeCount returns the number of nodes in the map
func (m *MindMap) NodeCount() int {
	return len(m.nodes)
}

// EdgeCount returns the number of edges in the map
func (m *MindMap) EdgeCount() int {
	return len(m.edges)
}

// Root returns the reserved root node
func (m *MindMap) Root() *entities.Node {
	return m.nodes[m.nodeIndex[valueobjects.RootNodeID]]
}

// GetNode retrieves a node by id
func (m *MindMap) GetNode(id string) (*entities.Node, error) {
	idx, ok := m.nodeIndex[id]
	if !ok {
		return nil, pkgerrors.ErrNodeNotFound
	}
	return m.nodes[idx], nil
}

// HasNode checks whether a node exists without error
func (m *MindMap) HasNode(id string) bool {
	_, ok := m.nodeIndex[id]
	return ok
}

// Nodes returns the nodes in insertion order
func (m *MindMap) Nodes() []*entities.Node {
	// Return a copy to maintain encapsulation
	return append([]*entities.Node(nil), m.nodes...)
}

// Edges returns the edges in insertion order
func (m *MindMap) Edges() []*entities.Edge {
	// Return a copy to maintain encapsulation
	return append([]*entities.Edge(nil), m.edges...)
}

// Chapters returns the table of contents in delivery order
func (m *MindMap) Chapters() []*entities.Chapter {
	return append([]*entities.Chapter(nil), m.chapters...)
}

// Sections returns the content sections in delivery order
func (m *MindMap) Sections() []*entities.ContentSection {
	return append([]*entities.ContentSection(nil), m.sections...)
}

// Apply reduces one decoded stream message into the map and returns
// the snapshot describing the state after the message. For an
// upstream failure message the snapshot retaining all prior progress
// is returned together with the terminal error.
func (m *MindMap) Apply(msg streaming.Message) (*ProgressSnapshot, error) {
	if msg == nil {
		return nil, pkgerrors.NewValidationError("message required")
	}
	if m.status != StatusLive {
		return nil, pkgerrors.ErrMindMapSealed
	}

	switch v := msg.(type) {
	case streaming.Metadata:
		m.applyMetadata(v)
	case streaming.AspectsBatch:
		if err := m.applyAspects(v); err != nil {
			return nil, err
		}
	case streaming.Outline:
		m.applyOutline(v)
	case streaming.Paragraph:
		m.applyParagraph(v)
	case streaming.ParagraphChunk:
		m.applyParagraphChunk(v)
	case streaming.ParagraphComplete:
		m.applyParagraphComplete(v)
	case streaming.Complete:
		m.seal()
	case streaming.UpstreamFailure:
		m.abort(v)
		m.touch()
		return m.Snapshot(), pkgerrors.NewUpstreamError(v.Message)
	default:
		return nil, pkgerrors.NewValidationError("unsupported message type " + string(msg.Type()))
	}

	m.touch()
	return m.Snapshot(), nil
}

// Expand appends a user-triggered sub-graph under an existing node.
// Expansion is append-only and, unlike Apply, is permitted on a sealed
// map.
func (m *MindMap) Expand(parentID string, aspects []streaming.Aspect) (*ProgressSnapshot, error) {
	if m.status == StatusFailed {
		return nil, pkgerrors.ErrMindMapSealed
	}
	parent, err := m.GetNode(parentID)
	if err != nil {
		return nil, err
	}
	if !parent.Expandable {
		return nil, pkgerrors.NewValidationError("node " + parentID + " is not expandable")
	}

	added, err := m.addBatch(parent, aspects)
	if err != nil {
		return nil, err
	}

	m.addEvent(events.NodeExpanded{
		BaseEvent: events.BaseEvent{
			AggregateID: m.id.String(),
			EventType:   "mindmap.node_expanded",
			Timestamp:   time.Now(),
			Version:     1,
		},
		MapID:    m.id.String(),
		ParentID: parent.ID,
		NodeIDs:  added,
	})

	m.touch()
	return m.Snapshot(), nil
}

// Snapshot builds the externally observable view of the current state
func (m *MindMap) Snapshot() *ProgressSnapshot {
	snap := &ProgressSnapshot{
		Nodes:       append([]*entities.Node(nil), m.nodes...),
		Edges:       append([]*entities.Edge(nil), m.edges...),
		CurrentStep: m.currentStep,
		IsComplete:  m.status == StatusSealed,
	}
	if len(m.chapters) > 0 {
		snap.Chapters = append([]*entities.Chapter(nil), m.chapters...)
	}
	if len(m.sections) > 0 {
		snap.Sections = append([]*entities.ContentSection(nil), m.sections...)
	}
	return snap
}

// Validate ensures map invariants
func (m *MindMap) Validate() error {
	rootIdx, ok := m.nodeIndex[valueobjects.RootNodeID]
	if !ok || !m.nodes[rootIdx].IsRoot() {
		return pkgerrors.ErrMindMapNotFound
	}

	for _, node := range m.nodes {
		if node.IsRoot() {
			continue
		}
		if node.ParentID == "" {
			return pkgerrors.ErrOrphanNode
		}
		if _, ok := m.nodeIndex[node.ParentID]; !ok {
			return pkgerrors.ErrOrphanNode
		}
	}

	for _, edge := range m.edges {
		if _, ok := m.nodeIndex[edge.Source]; !ok {
			return pkgerrors.ErrOrphanNode
		}
		if _, ok := m.nodeIndex[edge.Target]; !ok {
			return pkgerrors.ErrOrphanNode
		}
	}

	return nil
}

// GetUncommittedEvents returns all uncommitted domain events
func (m *MindMap) GetUncommittedEvents() []events.DomainEvent {
	out := make([]events.DomainEvent, len(m.events))
	copy(out, m.events)
	return out
}

// MarkEventsAsCommitted clears all uncommitted events
func (m *MindMap) MarkEventsAsCommitted() {
	m.events = []events.DomainEvent{}
}

// Private helper methods

func (m *MindMap) applyMetadata(v streaming.Metadata) {
	rootIdx := m.nodeIndex[valueobjects.RootNodeID]
	m.nodes[rootIdx] = m.nodes[rootIdx].WithDescription(v.Description, v.Difficulty)
	m.currentStep = StepMetadata

	m.addEvent(events.RootAnnotated{
		BaseEvent: events.BaseEvent{
			AggregateID: m.id.String(),
			EventType:   "mindmap.root_annotated",
			Timestamp:   time.Now(),
			Version:     1,
		},
		MapID:      m.id.String(),
		Difficulty: v.Difficulty,
	})
}

func (m *MindMap) applyAspects(v streaming.AspectsBatch) error {
	parentID := v.ParentID
	if parentID == "" {
		parentID = valueobjects.RootNodeID
	}
	parent, err := m.GetNode(parentID)
	if err != nil {
		return err
	}

	added, err := m.addBatch(parent, v.Aspects)
	if err != nil {
		return err
	}
	m.currentStep = StepAspects

	edgeIDs := make([]string, 0, len(added))
	for _, nodeID := range added {
		edgeIDs = append(edgeIDs, valueobjects.EdgeID(parent.ID, nodeID))
	}
	m.addEvent(events.ConceptsAdded{
		BaseEvent: events.BaseEvent{
			AggregateID: m.id.String(),
			EventType:   "mindmap.concepts_added",
			Timestamp:   time.Now(),
			Version:     1,
		},
		MapID:    m.id.String(),
		ParentID: parent.ID,
		NodeIDs:  added,
		EdgeIDs:  edgeIDs,
	})

	return nil
}

// addBatch lays out and inserts one batch of siblings under parent.
// The batch is built in full before anything is committed, so a bad
// item never leaves a half-applied batch behind.
func (m *MindMap) addBatch(parent *entities.Node, aspects []streaming.Aspect) ([]string, error) {
	if len(aspects) == 0 {
		return nil, nil
	}
	if parent.Level+1 > m.cfg.MaxDepth {
		return nil, pkgerrors.ErrNodeLimitExceeded
	}
	if len(m.nodes)+len(aspects) > m.cfg.MaxNodesPerMap {
		return nil, pkgerrors.ErrNodeLimitExceeded
	}
	if len(m.edges)+len(aspects) > m.cfg.MaxEdgesPerMap {
		return nil, pkgerrors.ErrNodeLimitExceeded
	}

	n := len(aspects)
	nodes := make([]*entities.Node, 0, n)
	edges := make([]*entities.Edge, 0, n)
	ids := make([]string, 0, n)

	for i, a := range aspects {
		importance := valueobjects.ParseImportance(a.Importance)
		radius := m.engine.RadiusFor(n, importance)
		pos := layout.Position(i, n, parent.Position, radius)
		handles := layout.HandlesAt(i, n)

		node, err := entities.NewConceptNodeWithConfig(a.Label, a.Description, parent, pos, importance, a.Expandable, m.cfg)
		if err != nil {
			return nil, err
		}
		edge, err := entities.NewEdge(parent.ID, node.ID, string(handles.Source), string(handles.Target))
		if err != nil {
			return nil, err
		}

		nodes = append(nodes, node)
		edges = append(edges, edge)
		ids = append(ids, node.ID)
	}

	for i := range nodes {
		m.putNode(nodes[i])
		m.putEdge(edges[i])
	}

	return ids, nil
}

// putNode inserts a node, replacing any same-id node in place
// (last-write-wins on merge).
func (m *MindMap) putNode(node *entities.Node) {
	if idx, ok := m.nodeIndex[node.ID]; ok {
		m.nodes[idx] = node
		return
	}
	m.nodeIndex[node.ID] = len(m.nodes)
	m.nodes = append(m.nodes, node)
}

// putEdge inserts an edge, replacing any same-id edge in place
func (m *MindMap) putEdge(edge *entities.Edge) {
	if idx, ok := m.edgeIndex[edge.ID]; ok {
		m.edges[idx] = edge
		return
	}
	m.edgeIndex[edge.ID] = len(m.edges)
	m.edges = append(m.edges, edge)
}

func (m *MindMap) applyOutline(v streaming.Outline) {
	chapters := make([]*entities.Chapter, 0, len(v.Chapters))
	chapterIDs := make([]string, 0, len(v.Chapters))
	for _, c := range v.Chapters {
		chapter := entities.NewChapter(m.topicSlug, c.Index, c.Title)
		chapters = append(chapters, chapter)
		chapterIDs = append(chapterIDs, chapter.ID)
	}
	m.chapters = chapters
	m.currentStep = StepOutline

	m.addEvent(events.ChaptersOutlined{
		BaseEvent: events.BaseEvent{
			AggregateID: m.id.String(),
			EventType:   "content.chapters_outlined",
			Timestamp:   time.Now(),
			Version:     1,
		},
		MapID:      m.id.String(),
		ChapterIDs: chapterIDs,
	})
}

func (m *MindMap) applyParagraph(v streaming.Paragraph) {
	section := entities.NewContentSection(m.chapterID(v.ChapterIndex), v.ChapterIndex, v.ParagraphIndex, v.Title, v.Content)
	m.putSection(section)
	m.currentStep = StepContent
	m.emitSectionCompleted(section)
}

func (m *MindMap) applyParagraphChunk(v streaming.ParagraphChunk) {
	chapterID := m.chapterID(v.ChapterIndex)
	id := valueobjects.ParagraphID(chapterID, v.ParagraphIndex)

	if idx, ok := m.sectionIndex[id]; ok {
		m.sections[idx] = m.sections[idx].WithDelta(v.Delta)
	} else {
		section := entities.NewContentSection(chapterID, v.ChapterIndex, v.ParagraphIndex, v.Title, "")
		m.putSection(section.WithDelta(v.Delta))
	}
	m.currentStep = StepContent
}

func (m *MindMap) applyParagraphComplete(v streaming.ParagraphComplete) {
	id := valueobjects.ParagraphID(m.chapterID(v.ChapterIndex), v.ParagraphIndex)
	idx, ok := m.sectionIndex[id]
	if !ok {
		return
	}
	m.sections[idx] = m.sections[idx].Completed()
	m.currentStep = StepContent
	m.emitSectionCompleted(m.sections[idx])
}

// putSection inserts a section, replacing any same-id section in
// place (content accretion is replace-by-id, not positional).
func (m *MindMap) putSection(section *entities.ContentSection) {
	if idx, ok := m.sectionIndex[section.ID]; ok {
		m.sections[idx] = section
		return
	}
	m.sectionIndex[section.ID] = len(m.sections)
	m.sections = append(m.sections, section)
}

// chapterID resolves a chapter index against the outline, deriving
// the id directly when a paragraph arrives before its outline entry.
func (m *MindMap) chapterID(index int) string {
	for _, c := range m.chapters {
		if c.Index == index {
			return c.ID
		}
	}
	return valueobjects.ChapterID(m.topicSlug, index)
}

func (m *MindMap) seal() {
	m.status = StatusSealed
	m.currentStep = StepComplete

	m.addEvent(events.MindMapSealed{
		BaseEvent: events.BaseEvent{
			AggregateID: m.id.String(),
			EventType:   "mindmap.sealed",
			Timestamp:   time.Now(),
			Version:     1,
		},
		MapID:     m.id.String(),
		NodeCount: len(m.nodes),
		EdgeCount: len(m.edges),
	})
}

func (m *MindMap) abort(v streaming.UpstreamFailure) {
	m.status = StatusFailed
	m.failure = v.Message
	m.currentStep = StepFailed

	m.addEvent(events.GenerationAborted{
		BaseEvent: events.BaseEvent{
			AggregateID: m.id.String(),
			EventType:   "mindmap.generation_aborted",
			Timestamp:   time.Now(),
			Version:     1,
		},
		MapID:     m.id.String(),
		Reason:    v.Message,
		Code:      v.Code,
		NodeCount: len(m.nodes),
	})
}

func (m *MindMap) emitSectionCompleted(section *entities.ContentSection) {
	if section.Status != entities.SectionComplete {
		return
	}
	m.addEvent(events.SectionCompleted{
		BaseEvent: events.BaseEvent{
			AggregateID: m.id.String(),
			EventType:   "content.section_completed",
			Timestamp:   time.Now(),
			Version:     1,
		},
		MapID:     m.id.String(),
		SectionID: section.ID,
		ChapterID: section.ChapterID,
	})
}

func (m *MindMap) touch() {
	m.updatedAt = time.Now()
	m.version++
}

func (m *MindMap) addEvent(event events.DomainEvent) {
	m.events = append(m.events, event)
}
