package versioning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// Stored payload schema versions. Rows written before chapters and
// sections existed carry no schemaVersion field and decode as v1.
const (
	// SchemaV1 stored bare node/edge lists with an isComplete flag
	SchemaV1 = 1
	// SchemaV2 adds chapters, sections and an explicit map status
	SchemaV2 = 2

	CurrentSchema = SchemaV2
)

// StoredGraph is the schema-versioned payload persisted in a map's
// graph column. Decoding migrates older schemas forward so readers
// only ever see the current shape.
type StoredGraph struct {
	SchemaVersion int                        `json:"schemaVersion"`
	Status        aggregates.MapStatus       `json:"status"`
	Nodes         []*entities.Node           `json:"nodes"`
	Edges         []*entities.Edge           `json:"edges"`
	Chapters      []*entities.Chapter        `json:"chapters,omitempty"`
	Sections      []*entities.ContentSection `json:"sections,omitempty"`
}

// storedGraphV1 is the legacy shape kept only for migration
type storedGraphV1 struct {
	Nodes      []*entities.Node `json:"nodes"`
	Edges      []*entities.Edge `json:"edges"`
	IsComplete bool             `json:"isComplete"`
}

// EncodeStoredGraph serializes a payload at the current schema
func EncodeStoredGraph(g *StoredGraph) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("stored graph cannot be nil")
	}
	g.SchemaVersion = CurrentSchema
	if g.Status == "" {
		g.Status = aggregates.StatusLive
	}
	return json.Marshal(g)
}

// DecodeStoredGraph parses a persisted payload, migrating legacy
// schemas forward
func DecodeStoredGraph(raw []byte) (*StoredGraph, error) {
	var probe struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("unreadable stored graph: %w", err)
	}

	switch probe.SchemaVersion {
	case 0, SchemaV1:
		var legacy storedGraphV1
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, fmt.Errorf("unreadable v1 stored graph: %w", err)
		}
		return migrateV1(legacy), nil
	case SchemaV2:
		var current StoredGraph
		if err := json.Unmarshal(raw, &current); err != nil {
			return nil, fmt.Errorf("unreadable v2 stored graph: %w", err)
		}
		if current.Status == "" {
			current.Status = aggregates.StatusSealed
		}
		return &current, nil
	default:
		return nil, pkgerrors.NewDomainError(
			pkgerrors.DomainValidationError,
			"UNSUPPORTED_SCHEMA",
			"Stored graph was written by a newer schema",
		).WithDetail("schema_version", probe.SchemaVersion)
	}
}

func migrateV1(legacy storedGraphV1) *StoredGraph {
	status := aggregates.StatusLive
	if legacy.IsComplete {
		status = aggregates.StatusSealed
	}
	return &StoredGraph{
		SchemaVersion: CurrentSchema,
		Status:        status,
		Nodes:         legacy.Nodes,
		Edges:         legacy.Edges,
	}
}

// MapRevision describes one persisted revision of a mind map
type MapRevision struct {
	MapID         string               `json:"map_id"`
	Version       int                  `json:"version"`
	SchemaVersion int                  `json:"schema_version"`
	Checksum      string               `json:"checksum"`
	Status        aggregates.MapStatus `json:"status"`
	NodeCount     int                  `json:"node_count"`
	EdgeCount     int                  `json:"edge_count"`
	SectionCount  int                  `json:"section_count"`
	CreatedAt     time.Time            `json:"created_at"`
}

// RevisionService derives revision records and content checksums
type RevisionService struct{}

// NewRevisionService creates a new revision service
func NewRevisionService() *RevisionService {
	return &RevisionService{}
}

// Describe captures the current revision of a map
func (s *RevisionService) Describe(m *aggregates.MindMap) (*MapRevision, error) {
	if m == nil {
		return nil, fmt.Errorf("mind map cannot be nil")
	}

	nodes := m.Nodes()
	edges := m.Edges()
	checksum, err := s.Checksum(nodes, edges)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return &MapRevision{
		MapID:         m.ID().String(),
		Version:       m.Version(),
		SchemaVersion: CurrentSchema,
		Checksum:      checksum,
		Status:        m.Status(),
		NodeCount:     len(nodes),
		EdgeCount:     len(edges),
		SectionCount:  len(m.Sections()),
		CreatedAt:     time.Now(),
	}, nil
}

// Checksum hashes a deterministic representation of the graph so two
// structurally equal graphs always produce the same digest.
func (s *RevisionService) Checksum(nodes []*entities.Node, edges []*entities.Edge) (string, error) {
	data := struct {
		Nodes []*entities.Node `json:"nodes"`
		Edges []*entities.Edge `json:"edges"`
	}{
		Nodes: nodes,
		Edges: edges,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:]), nil
}

// ValidateSuccession enforces optimistic concurrency: an update must
// carry a version strictly greater than the stored one.
func ValidateSuccession(storedVersion, incomingVersion int) error {
	if incomingVersion > storedVersion {
		return nil
	}
	return pkgerrors.NewDomainError(
		pkgerrors.DomainConflictError,
		"CONCURRENT_MODIFICATION",
		"The resource was modified by another process",
	).WithRetryable(true).
		WithDetail("stored_version", storedVersion).
		WithDetail("incoming_version", incomingVersion)
}

// RevisionDiff summarizes the change between two revisions
type RevisionDiff struct {
	FromVersion  int           `json:"from_version"`
	ToVersion    int           `json:"to_version"`
	NodesAdded   int           `json:"nodes_added"`
	EdgesAdded   int           `json:"edges_added"`
	SectionDelta int           `json:"section_delta"`
	TimeDiff     time.Duration `json:"time_diff"`
}

// Compare summarizes the difference between two revisions of the
// same map
func (s *RevisionService) Compare(from, to *MapRevision) (*RevisionDiff, error) {
	if from == nil || to == nil {
		return nil, fmt.Errorf("revisions cannot be nil")
	}
	if from.MapID != to.MapID {
		return nil, fmt.Errorf("revisions belong to different maps")
	}

	return &RevisionDiff{
		FromVersion:  from.Version,
		ToVersion:    to.Version,
		NodesAdded:   to.NodeCount - from.NodeCount,
		EdgesAdded:   to.EdgeCount - from.EdgeCount,
		SectionDelta: to.SectionCount - from.SectionCount,
		TimeDiff:     to.CreatedAt.Sub(from.CreatedAt),
	}, nil
}

// FlushPolicy controls how often the synchronizer writes mid-stream
// snapshots to the store. Terminal snapshots are always flushed unless
// the policy disables flushing entirely, which replay runs use: their
// content is already durable.
type FlushPolicy struct {
	EveryMessages int           `json:"every_messages"`
	MinInterval   time.Duration `json:"min_interval"`
}

// DefaultFlushPolicy returns the default flush policy
func DefaultFlushPolicy() FlushPolicy {
	return FlushPolicy{
		EveryMessages: 1,
		MinInterval:   0,
	}
}

// NeverFlushPolicy returns a policy that suppresses every write,
// terminal ones included
func NeverFlushPolicy() FlushPolicy {
	return FlushPolicy{EveryMessages: -1}
}

// ShouldFlush decides whether the snapshot produced by the given
// message number warrants a persistence write
func (p FlushPolicy) ShouldFlush(messagesApplied int, lastFlush time.Time, now time.Time, terminal bool) bool {
	if p.EveryMessages < 0 {
		return false
	}
	if terminal {
		return true
	}
	if p.EveryMessages > 0 && messagesApplied%p.EveryMessages != 0 {
		return false
	}
	if p.MinInterval > 0 && now.Sub(lastFlush) < p.MinInterval {
		return false
	}
	return true
}
