// Package integration drives the full HTTP stack end to end: the chi
// root router, the session middleware, the versioned mux routes, both
// buses and the application handlers, with in-memory stores standing in
// for DynamoDB and a scripted frame source standing in for the
// generation backend. The suite walks one topic through its whole
// life: generation over SSE, reads, replay, expansion, checks and
// deletion.
package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/commands"
	"github.com/creatuluw/exploring.fyi-sub000/application/commands/bus"
	cmdhandlers "github.com/creatuluw/exploring.fyi-sub000/application/commands/handlers"
	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/application/queries"
	querybus "github.com/creatuluw/exploring.fyi-sub000/application/queries/bus"
	qhandlers "github.com/creatuluw/exploring.fyi-sub000/application/queries/handlers"
	"github.com/creatuluw/exploring.fyi-sub000/application/services"
	domaincfg "github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/aggregates"
	"github.com/creatuluw/exploring.fyi-sub000/domain/core/entities"
	"github.com/creatuluw/exploring.fyi-sub000/domain/events"
	"github.com/creatuluw/exploring.fyi-sub000/domain/streaming"
	"github.com/creatuluw/exploring.fyi-sub000/domain/versioning"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/config"
	"github.com/creatuluw/exploring.fyi-sub000/interfaces/http/rest"
	resthandlers "github.com/creatuluw/exploring.fyi-sub000/interfaces/http/rest/handlers"
	"github.com/creatuluw/exploring.fyi-sub000/interfaces/http/rest/middleware"
	apiv1 "github.com/creatuluw/exploring.fyi-sub000/interfaces/http/rest/v1"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/extensions"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/observability"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/ratelimit"
)

// stack is one fully wired API server over in-memory infrastructure.
type stack struct {
	server  *httptest.Server
	topics  *memTopics
	maps    *memMaps
	content *memContent
	checks  *memChecks
	cache   *memCache
	lock    *memLock
	outbox  *memOutbox
	backend *memBackend
}

// newStack wires the production object graph by hand, the same shape
// the container builds, with every store swapped for its in-memory
// double. Replay pacing is zeroed so tests run at full speed.
func newStack(t *testing.T) *stack {
	t.Helper()

	logger := zap.NewNop()
	cfg := domaincfg.DefaultDomainConfig()
	cfg.ReplayFrameDelay = 0
	cfg.ReplayChunkDelay = 0

	s := &stack{
		topics:  &memTopics{},
		maps:    &memMaps{},
		content: newMemContent(),
		checks:  &memChecks{},
		cache:   newMemCache(),
		lock:    newMemLock(),
		outbox:  &memOutbox{},
		backend: newMemBackend(photosynthesisStream(t)),
	}

	synchronizer := services.NewSynchronizer(s.topics, s.maps, cfg, logger)
	pipeline := services.NewPipeline(synchronizer, nil, cfg, logger)
	orchestrator := cmdhandlers.NewGenerateMindMapOrchestrator(
		synchronizer, pipeline, s.backend, s.cache, s.maps, s.content, s.lock, s.outbox, cfg, logger)
	expand := cmdhandlers.NewExpandNodeHandler(
		s.topics, s.maps, s.backend, s.cache, s.outbox, cfg, logger)
	recordCheck := cmdhandlers.NewRecordCheckHandler(s.topics, s.checks, s.outbox, logger)
	deleteTopic := cmdhandlers.NewDeleteTopicHandler(
		s.topics, s.maps, s.content, s.cache, s.outbox, logger)

	commandBus := bus.NewCommandBus(
		bus.RecoveryMiddleware(logger),
		bus.LoggingMiddleware(logger),
	)
	registerCommand := func(cmdType bus.Command, handler bus.CommandHandlerFunc) {
		t.Helper()
		if err := commandBus.Register(cmdType, handler); err != nil {
			t.Fatalf("register command %T: %v", cmdType, err)
		}
	}
	registerCommand(commands.GenerateMindMapCommand{}, func(ctx context.Context, cmd bus.Command) error {
		generateCmd, ok := cmd.(commands.GenerateMindMapCommand)
		if !ok {
			return fmt.Errorf("invalid command type %T", cmd)
		}
		_, err := orchestrator.Handle(ctx, generateCmd, nil)
		return err
	})
	registerCommand(commands.ExpandNodeCommand{}, func(ctx context.Context, cmd bus.Command) error {
		expandCmd, ok := cmd.(commands.ExpandNodeCommand)
		if !ok {
			return fmt.Errorf("invalid command type %T", cmd)
		}
		_, err := expand.Handle(ctx, expandCmd)
		return err
	})
	registerCommand(commands.RecordCheckCommand{}, func(ctx context.Context, cmd bus.Command) error {
		checkCmd, ok := cmd.(commands.RecordCheckCommand)
		if !ok {
			return fmt.Errorf("invalid command type %T", cmd)
		}
		_, err := recordCheck.Handle(ctx, checkCmd)
		return err
	})
	registerCommand(commands.DeleteTopicCommand{}, func(ctx context.Context, cmd bus.Command) error {
		deleteCmd, ok := cmd.(commands.DeleteTopicCommand)
		if !ok {
			return fmt.Errorf("invalid command type %T", cmd)
		}
		return deleteTopic.Handle(ctx, deleteCmd)
	})

	// The query bus runs without the read cache so deletes read back as
	// gone immediately.
	queryBus := querybus.NewQueryBus(querybus.LoggingMiddleware(logger))
	registerQuery := func(queryType querybus.Query, handler querybus.QueryHandlerFunc) {
		t.Helper()
		if err := queryBus.Register(queryType, handler); err != nil {
			t.Fatalf("register query %T: %v", queryType, err)
		}
	}
	getTopic := qhandlers.NewGetTopicHandler(s.topics, s.maps, logger)
	registerQuery(queries.GetTopicQuery{}, func(ctx context.Context, query querybus.Query) (interface{}, error) {
		q, ok := query.(queries.GetTopicQuery)
		if !ok {
			return nil, fmt.Errorf("invalid query type %T", query)
		}
		return getTopic.Handle(ctx, q)
	})
	getMindMap := qhandlers.NewGetMindMapHandler(s.topics, s.maps, logger)
	registerQuery(queries.GetMindMapQuery{}, func(ctx context.Context, query querybus.Query) (interface{}, error) {
		q, ok := query.(queries.GetMindMapQuery)
		if !ok {
			return nil, fmt.Errorf("invalid query type %T", query)
		}
		return getMindMap.Handle(ctx, q)
	})
	getSections := qhandlers.NewGetSectionsHandler(s.topics, s.content, s.checks, logger)
	registerQuery(queries.GetSectionsQuery{}, func(ctx context.Context, query querybus.Query) (interface{}, error) {
		q, ok := query.(queries.GetSectionsQuery)
		if !ok {
			return nil, fmt.Errorf("invalid query type %T", query)
		}
		return getSections.Handle(ctx, q)
	})
	listTopics := qhandlers.NewListTopicsHandler(s.topics, logger)
	registerQuery(queries.ListTopicsQuery{}, func(ctx context.Context, query querybus.Query) (interface{}, error) {
		q, ok := query.(queries.ListTopicsQuery)
		if !ok {
			return nil, fmt.Errorf("invalid query type %T", query)
		}
		return listTopics.Handle(ctx, q)
	})

	metrics := observability.NewMetrics("ExploringFyi/test", nil)
	tracer := observability.NewTracer("integration", false)
	errs := pkgerrors.NewErrorHandler(logger, true)
	hooks := extensions.NewHookRegistry(logger)

	topicHandler := resthandlers.NewTopicHandler(commandBus, queryBus, errs, logger)
	generationHandler := resthandlers.NewGenerationHandler(orchestrator, hooks, metrics, tracer, errs, logger)
	mindMapHandler := resthandlers.NewMindMapHandler(queryBus, expand, hooks, errs, logger)
	contentHandler := resthandlers.NewContentHandler(queryBus, recordCheck, errs, logger)

	limiter := ratelimit.NewSessionRateLimiter(ratelimit.NewPerMinuteLimiter(600))
	api := apiv1.NewRouter(topicHandler, generationHandler, mindMapHandler, contentHandler,
		middleware.RateLimit(limiter, logger))

	router := rest.NewRouter(api, metrics, &config.Config{Environment: "test"}, logger)
	s.server = httptest.NewServer(router.Setup())
	t.Cleanup(s.server.Close)
	return s
}

// do performs one request against the stack under the given session.
func (s *stack) do(t *testing.T, method, path, session string, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request %s %s: %v", method, path, err)
	}
	req.Header.Set("X-Session-ID", session)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// generate starts a run and returns the parsed event stream.
func (s *stack) generate(t *testing.T, session, body string) []streamEvent {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/v1/generations", session, body)
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("generation returned %d: %s", resp.StatusCode, raw)
	}
	return readStream(t, resp)
}

// streamEvent is one parsed SSE event.
type streamEvent struct {
	name string
	data json.RawMessage
}

// readStream consumes an SSE response body into its events.
func readStream(t *testing.T, resp *http.Response) []streamEvent {
	t.Helper()
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got content type %q", ct)
	}

	var parsed []streamEvent
	var name string
	var data bytes.Buffer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		case line == "":
			if name != "" || data.Len() > 0 {
				parsed = append(parsed, streamEvent{
					name: name,
					data: json.RawMessage(append([]byte(nil), data.Bytes()...)),
				})
			}
			name = ""
			data.Reset()
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read event stream: %v", err)
	}
	return parsed
}

// progressSnapshots decodes every progress event in order.
func progressSnapshots(t *testing.T, stream []streamEvent) []*aggregates.ProgressSnapshot {
	t.Helper()
	var snapshots []*aggregates.ProgressSnapshot
	for _, ev := range stream {
		if ev.name != "progress" {
			continue
		}
		var snap aggregates.ProgressSnapshot
		if err := json.Unmarshal(ev.data, &snap); err != nil {
			t.Fatalf("decode progress event: %v", err)
		}
		snapshots = append(snapshots, &snap)
	}
	return snapshots
}

// doneSummary asserts the stream ended with a done event and decodes it.
func doneSummary(t *testing.T, stream []streamEvent) *resthandlers.GenerationSummary {
	t.Helper()
	if len(stream) == 0 {
		t.Fatal("stream carried no events")
	}
	last := stream[len(stream)-1]
	if last.name != "done" {
		t.Fatalf("expected terminal done event, got %q: %s", last.name, last.data)
	}
	var summary resthandlers.GenerationSummary
	if err := json.Unmarshal(last.data, &summary); err != nil {
		t.Fatalf("decode done event: %v", err)
	}
	return &summary
}

// decodeData unwraps the API envelope and decodes its data payload.
func decodeData(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response envelope: %v", err)
	}
	if !envelope.Success {
		t.Fatalf("expected successful response, got: %s", envelope.Data)
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode response data: %v", err)
	}
}

// drainError reads an error response body for failure assertions.
func drainError(t *testing.T, resp *http.Response) pkgerrors.ErrorResponse {
	t.Helper()
	defer resp.Body.Close()
	var body pkgerrors.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return body
}

const generateBody = `{"topic": "Photosynthesis", "language": "en"}`

// TestGenerationFlow walks one topic through its whole life against
// the real HTTP surface.
func TestGenerationFlow(t *testing.T) {
	s := newStack(t)
	session := "learner-1"

	var topicID string
	var mapID string
	var chapterID string
	var sectionID string
	var expandableID string
	var firstRunNodes []string

	t.Run("first run streams the whole build", func(t *testing.T) {
		stream := s.generate(t, session, generateBody)

		snapshots := progressSnapshots(t, stream)
		if len(snapshots) != 7 {
			t.Fatalf("expected 7 progress events, got %d", len(snapshots))
		}
		for i := 1; i < len(snapshots); i++ {
			if len(snapshots[i].Nodes) < len(snapshots[i-1].Nodes) {
				t.Errorf("node count shrank between events %d and %d", i-1, i)
			}
		}
		final := snapshots[len(snapshots)-1]
		if !final.IsComplete {
			t.Error("final snapshot should be complete")
		}
		if len(final.Nodes) != 4 {
			t.Errorf("expected root plus three concepts, got %d nodes", len(final.Nodes))
		}
		if len(final.Edges) != 3 {
			t.Errorf("expected 3 edges, got %d", len(final.Edges))
		}
		for _, n := range final.Nodes {
			firstRunNodes = append(firstRunNodes, n.ID)
		}

		done := doneSummary(t, stream)
		if !done.Completed {
			t.Error("run should have completed")
		}
		if done.FromCache {
			t.Error("first run must not come from cache")
		}
		if done.MessagesApplied != 7 {
			t.Errorf("expected 7 applied messages, got %d", done.MessagesApplied)
		}
		if done.Status != string(aggregates.StatusSealed) {
			t.Errorf("expected sealed map, got %q", done.Status)
		}
		if done.Slug != "photosynthesis" {
			t.Errorf("expected slug photosynthesis, got %q", done.Slug)
		}
		if done.NodeCount != 4 || done.EdgeCount != 3 {
			t.Errorf("expected 4 nodes and 3 edges, got %d and %d", done.NodeCount, done.EdgeCount)
		}
		if done.TopicID == "" || done.MapID == "" {
			t.Fatal("done event must carry topic and map ids")
		}
		topicID = done.TopicID
		mapID = done.MapID

		if got := s.backend.openCount(); got != 1 {
			t.Errorf("expected one backend stream, got %d", got)
		}
		if got := s.lock.acquireCount(); got != 1 {
			t.Errorf("expected one lock acquisition, got %d", got)
		}
	})

	t.Run("topic becomes readable in its scope", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/api/v1/topics/photosynthesis", session, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if got := resp.Header.Get("X-API-Version"); got != "v1" {
			t.Errorf("expected version header v1, got %q", got)
		}
		if got := resp.Header.Get("X-Session-ID"); got != session {
			t.Errorf("expected session echo %q, got %q", session, got)
		}

		var topic queries.GetTopicResult
		decodeData(t, resp, &topic)
		if topic.ID != topicID {
			t.Errorf("expected topic %s, got %s", topicID, topic.ID)
		}
		if topic.MapStatus != string(aggregates.StatusSealed) {
			t.Errorf("expected sealed map status, got %q", topic.MapStatus)
		}
		if topic.NodeCount != 4 {
			t.Errorf("expected 4 nodes, got %d", topic.NodeCount)
		}
		if topic.Language != "en" {
			t.Errorf("expected language en, got %q", topic.Language)
		}

		listResp := s.do(t, http.MethodGet, "/api/v1/topics", session, "")
		if listResp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 from list, got %d", listResp.StatusCode)
		}
		var page queries.ListTopicsResult
		decodeData(t, listResp, &page)
		if len(page.Topics) != 1 || page.Topics[0].Slug != "photosynthesis" {
			t.Errorf("expected the one generated topic in the listing, got %+v", page.Topics)
		}
	})

	t.Run("mind map query serves the rendered graph", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/api/v1/topics/"+topicID+"/mindmap", session, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}

		var m queries.GetMindMapResult
		decodeData(t, resp, &m)
		if m.MapID != mapID {
			t.Errorf("expected map %s, got %s", mapID, m.MapID)
		}
		if m.Version != 1 {
			t.Errorf("expected version 1, got %d", m.Version)
		}
		if len(m.Nodes) != 4 || len(m.Edges) != 3 {
			t.Fatalf("expected 4 nodes and 3 edges, got %d and %d", len(m.Nodes), len(m.Edges))
		}
		if m.Stats.NodeCount != 4 {
			t.Errorf("expected stats to count 4 nodes, got %d", m.Stats.NodeCount)
		}

		var sawRoot bool
		for _, n := range m.Nodes {
			if n.ID == "main" {
				sawRoot = true
				continue
			}
			if n.ParentID != "main" {
				t.Errorf("concept %s should hang off the root, parent is %q", n.ID, n.ParentID)
			}
			if n.Expandable && expandableID == "" {
				expandableID = n.ID
			}
		}
		if !sawRoot {
			t.Error("graph is missing its root node")
		}
		if expandableID == "" {
			t.Fatal("expected at least one expandable concept")
		}
	})

	t.Run("reading content lands with the chapter outline", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/api/v1/topics/"+topicID+"/content", session, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}

		var content queries.GetSectionsResult
		decodeData(t, resp, &content)
		if len(content.Chapters) != 2 {
			t.Fatalf("expected 2 chapters, got %d", len(content.Chapters))
		}
		if content.Chapters[0].Title != "The light reactions" || content.Chapters[1].Title != "The Calvin cycle" {
			t.Errorf("chapters out of order: %+v", content.Chapters)
		}
		if content.Chapters[0].Checks.Attempts != 0 {
			t.Errorf("fresh chapter should have no check attempts, got %d", content.Chapters[0].Checks.Attempts)
		}
		if len(content.Sections) != 1 {
			t.Fatalf("expected 1 section, got %d", len(content.Sections))
		}
		section := content.Sections[0]
		if section.Content != "Light hits the thylakoid." {
			t.Errorf("chunk deltas did not concatenate: %q", section.Content)
		}
		if section.Status != entities.SectionComplete {
			t.Errorf("expected complete section, got %q", section.Status)
		}
		if section.ChapterID != content.Chapters[0].ID {
			t.Errorf("section belongs to chapter %s, expected %s", section.ChapterID, content.Chapters[0].ID)
		}
		chapterID = content.Chapters[0].ID
		sectionID = section.ID
	})

	t.Run("repeat request replays without reopening the backend", func(t *testing.T) {
		stream := s.generate(t, session, generateBody)

		done := doneSummary(t, stream)
		if !done.FromCache {
			t.Error("repeat request should replay the stored result")
		}
		if !done.Completed {
			t.Error("replay should complete")
		}
		if done.TopicID != topicID {
			t.Errorf("replay resolved a different topic: %s", done.TopicID)
		}

		snapshots := progressSnapshots(t, stream)
		if len(snapshots) == 0 {
			t.Fatal("replay emitted no progress events")
		}
		final := snapshots[len(snapshots)-1]
		if !final.IsComplete {
			t.Error("replayed run should end complete")
		}
		if len(final.Nodes) != len(firstRunNodes) {
			t.Fatalf("replayed graph has %d nodes, original had %d", len(final.Nodes), len(firstRunNodes))
		}
		for i, n := range final.Nodes {
			if n.ID != firstRunNodes[i] {
				t.Errorf("node %d replayed as %s, original was %s", i, n.ID, firstRunNodes[i])
			}
		}

		if got := s.backend.openCount(); got != 1 {
			t.Errorf("replay must not reopen the backend, saw %d opens", got)
		}
		if got := s.lock.acquireCount(); got != 1 {
			t.Errorf("replay must not take the generation lock, saw %d acquisitions", got)
		}
		if got := s.maps.count(); got != 1 {
			t.Errorf("replay must not write new rows, found %d", got)
		}
	})

	t.Run("expansion grows the sealed map in place", func(t *testing.T) {
		s.backend.setStream(expansionStream(t))

		resp := s.do(t, http.MethodPost,
			"/api/v1/topics/"+topicID+"/nodes/"+expandableID+"/expand", session, "{}")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}

		var snap aggregates.ProgressSnapshot
		decodeData(t, resp, &snap)
		if len(snap.Nodes) != 6 {
			t.Fatalf("expected 6 nodes after expansion, got %d", len(snap.Nodes))
		}
		var children []string
		for _, n := range snap.Nodes {
			if n.ParentID == expandableID {
				children = append(children, n.Label)
			}
		}
		if len(children) != 2 {
			t.Fatalf("expected 2 new children, got %v", children)
		}

		mapResp := s.do(t, http.MethodGet, "/api/v1/topics/"+topicID+"/mindmap", session, "")
		var m queries.GetMindMapResult
		decodeData(t, mapResp, &m)
		if m.Version != 2 {
			t.Errorf("expansion should bump the version to 2, got %d", m.Version)
		}
		if len(m.Nodes) != 6 || len(m.Edges) != 5 {
			t.Errorf("expected 6 nodes and 5 edges, got %d and %d", len(m.Nodes), len(m.Edges))
		}

		if got := s.backend.openCount(); got != 2 {
			t.Errorf("expansion opens its own stream, expected 2 opens, got %d", got)
		}
	})

	t.Run("replay carries the expanded graph", func(t *testing.T) {
		stream := s.generate(t, session, generateBody)

		done := doneSummary(t, stream)
		if !done.FromCache {
			t.Error("expected a replay")
		}
		if done.NodeCount != 6 {
			t.Errorf("replay should see the expanded graph, got %d nodes", done.NodeCount)
		}
		if got := s.backend.openCount(); got != 2 {
			t.Errorf("replay after expansion must not reopen the backend, saw %d opens", got)
		}
	})

	t.Run("check attempts accumulate against a chapter", func(t *testing.T) {
		checksPath := "/api/v1/topics/" + topicID + "/chapters/" + chapterID + "/checks"

		first := s.do(t, http.MethodPost, checksPath, session, `{"passed": false, "score": 40}`)
		if first.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d", first.StatusCode)
		}
		var attempt entities.Check
		decodeData(t, first, &attempt)
		if attempt.ChapterID != chapterID || attempt.Passed || attempt.Score != 40 {
			t.Errorf("first attempt recorded wrong: %+v", attempt)
		}

		second := s.do(t, http.MethodPost, checksPath, session,
			fmt.Sprintf(`{"sectionId": %q, "passed": true, "score": 90}`, sectionID))
		if second.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d", second.StatusCode)
		}
		decodeData(t, second, nil)

		resp := s.do(t, http.MethodGet, "/api/v1/topics/"+topicID+"/content", session, "")
		var content queries.GetSectionsResult
		decodeData(t, resp, &content)
		checks := content.Chapters[0].Checks
		if checks.Attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", checks.Attempts)
		}
		if checks.BestScore != 90 {
			t.Errorf("expected best score 90, got %d", checks.BestScore)
		}
		if !checks.Passed {
			t.Error("chapter should count as passed after the second attempt")
		}
		if checks.LastAt == "" {
			t.Error("expected a last attempt timestamp")
		}
	})

	t.Run("delete tears the topic down", func(t *testing.T) {
		resp := s.do(t, http.MethodDelete, "/api/v1/topics/"+topicID, session, "")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", resp.StatusCode)
		}

		topicResp := s.do(t, http.MethodGet, "/api/v1/topics/photosynthesis", session, "")
		if topicResp.StatusCode != http.StatusNotFound {
			t.Errorf("deleted topic still resolves: %d", topicResp.StatusCode)
		}
		body := drainError(t, topicResp)
		if !body.Error {
			t.Error("expected an error body for the deleted topic")
		}

		mapResp := s.do(t, http.MethodGet, "/api/v1/topics/"+topicID+"/mindmap", session, "")
		defer mapResp.Body.Close()
		if mapResp.StatusCode != http.StatusNotFound {
			t.Errorf("deleted mind map still resolves: %d", mapResp.StatusCode)
		}

		var sawDeleted bool
		for _, eventType := range s.outbox.types() {
			if eventType == "topic.deleted" {
				sawDeleted = true
			}
		}
		if !sawDeleted {
			t.Error("expected a topic.deleted event in the outbox")
		}
	})

	t.Run("regenerating after delete starts fresh", func(t *testing.T) {
		s.backend.setStream(photosynthesisStream(t))

		stream := s.generate(t, session, generateBody)
		done := doneSummary(t, stream)
		if done.FromCache {
			t.Error("nothing should be left to replay after deletion")
		}
		if !done.Completed {
			t.Error("fresh run should complete")
		}
		if done.TopicID == topicID {
			t.Error("regeneration should mint a new topic identity")
		}
		if got := s.backend.openCount(); got != 3 {
			t.Errorf("expected a fresh backend stream, got %d opens", got)
		}
	})
}

// TestGenerationUpstreamFailure verifies a failed run surfaces as an
// SSE error event and never poisons the replay path.
func TestGenerationUpstreamFailure(t *testing.T) {
	s := newStack(t)
	session := "learner-2"
	s.backend.setStream(failingStream(t))

	stream := s.generate(t, session, generateBody)
	if len(stream) == 0 {
		t.Fatal("stream carried no events")
	}
	last := stream[len(stream)-1]
	if last.name != "error" {
		t.Fatalf("expected terminal error event, got %q", last.name)
	}
	var failure struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(last.data, &failure); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if !strings.Contains(failure.Message, "model overloaded") {
		t.Errorf("error event should carry the upstream reason, got %q", failure.Message)
	}
	// Metadata and the batch each emit progress, and the abort snapshot
	// retaining that progress is emitted as well.
	if got := len(progressSnapshots(t, stream)); got != 3 {
		t.Errorf("expected 3 progress events, got %d", got)
	}

	// The failed row must not replay: a retry opens a fresh stream and
	// completes.
	s.backend.setStream(photosynthesisStream(t))
	retry := s.generate(t, session, generateBody)
	done := doneSummary(t, retry)
	if done.FromCache {
		t.Error("a failed run must never be replayed")
	}
	if !done.Completed {
		t.Error("retry should complete")
	}
	if got := s.backend.openCount(); got != 2 {
		t.Errorf("expected the retry to reopen the backend, got %d opens", got)
	}

	resp := s.do(t, http.MethodGet, "/api/v1/topics/photosynthesis", session, "")
	var topic queries.GetTopicResult
	decodeData(t, resp, &topic)
	if topic.MapStatus != string(aggregates.StatusSealed) {
		t.Errorf("latest map should be the sealed retry, got %q", topic.MapStatus)
	}
}

// TestScopeIsolation verifies sessions never see each other's topics.
func TestScopeIsolation(t *testing.T) {
	s := newStack(t)

	stream := s.generate(t, "alice-session", generateBody)
	done := doneSummary(t, stream)
	if !done.Completed {
		t.Fatal("seed generation should complete")
	}

	resp := s.do(t, http.MethodGet, "/api/v1/topics/photosynthesis", "bob-session", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign scope resolved the topic: %d", resp.StatusCode)
	}

	listResp := s.do(t, http.MethodGet, "/api/v1/topics", "bob-session", "")
	var page queries.ListTopicsResult
	decodeData(t, listResp, &page)
	if len(page.Topics) != 0 {
		t.Errorf("foreign scope listed %d topics", len(page.Topics))
	}

	ownResp := s.do(t, http.MethodGet, "/api/v1/topics/photosynthesis", "alice-session", "")
	defer ownResp.Body.Close()
	if ownResp.StatusCode != http.StatusOK {
		t.Errorf("owning scope lost its topic: %d", ownResp.StatusCode)
	}
}

// TestGenerationRequestValidation verifies bad requests are rejected
// before the response commits to an event stream.
func TestGenerationRequestValidation(t *testing.T) {
	s := newStack(t)
	session := "learner-3"

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"topic": `},
		{"empty topic", `{"topic": "", "language": "en"}`},
		{"bad source url", `{"topic": "Photosynthesis", "sourceUrl": "not a url"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/api/v1/generations", session, tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			body := drainError(t, resp)
			if !body.Error {
				t.Error("expected an error body")
			}
		})
	}

	if got := s.backend.openCount(); got != 0 {
		t.Errorf("rejected requests must not reach the backend, saw %d opens", got)
	}
}

// photosynthesisStream is the canonical full run: metadata, one batch
// of three concepts, a two chapter outline, one chunked paragraph and
// the completion marker.
func photosynthesisStream(t *testing.T) []byte {
	t.Helper()
	return encodeStream(t,
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
	)
}

// expansionStream carries the sub-graph for one node expansion.
func expansionStream(t *testing.T) []byte {
	t.Helper()
	return encodeStream(t,
		streaming.AspectsBatch{Aspects: []streaming.Aspect{
			{Label: "Photosystem II", Importance: "high"},
			{Label: "Electron transport chain", Importance: "medium", Expandable: true},
		}},
		streaming.Complete{},
	)
}

// failingStream builds two nodes and then dies upstream.
func failingStream(t *testing.T) []byte {
	t.Helper()
	return encodeStream(t,
		streaming.Metadata{Title: "Photosynthesis"},
		streaming.AspectsBatch{Aspects: []streaming.Aspect{{Label: "Light reactions"}}},
		streaming.UpstreamFailure{Message: "model overloaded", Code: "MODEL_OVERLOADED"},
	)
}

func encodeStream(t *testing.T, messages ...streaming.Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, msg := range messages {
		frame, err := streaming.EncodeFrame(msg)
		if err != nil {
			t.Fatalf("encode %T frame: %v", msg, err)
		}
		buf.Write(frame)
	}
	return buf.Bytes()
}

// memTopics is an in-memory TopicRepository.
type memTopics struct {
	mu     sync.Mutex
	topics []*entities.Topic
}

func (r *memTopics) GetByID(ctx context.Context, id string) (*entities.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range r.topics {
		if topic.ID == id {
			return topic, nil
		}
	}
	return nil, pkgerrors.ErrTopicNotFound
}

func (r *memTopics) FindBySlug(ctx context.Context, scope, slug string) (*entities.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range r.topics {
		if topic.Scope == scope && topic.Slug == slug {
			return topic, nil
		}
	}
	return nil, pkgerrors.ErrTopicNotFound
}

func (r *memTopics) FindByTitle(ctx context.Context, scope, normalizedTitle string) (*entities.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range r.topics {
		if topic.Scope == scope && topic.NormalizedTitle() == normalizedTitle {
			return topic, nil
		}
	}
	return nil, pkgerrors.ErrTopicNotFound
}

func (r *memTopics) SlugExists(ctx context.Context, scope, slug string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range r.topics {
		if topic.Scope == scope && topic.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r *memTopics) Create(ctx context.Context, topic *entities.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.topics {
		if existing.Scope == topic.Scope && existing.Slug == topic.Slug {
			return pkgerrors.NewDomainError(pkgerrors.DomainConflictError, "TOPIC_EXISTS", "topic already exists")
		}
	}
	r.topics = append(r.topics, topic)
	return nil
}

func (r *memTopics) Update(ctx context.Context, topic *entities.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.topics {
		if existing.ID == topic.ID {
			r.topics[i] = topic
			return nil
		}
	}
	return pkgerrors.ErrTopicNotFound
}

func (r *memTopics) ListByScope(ctx context.Context, scope string, criteria ports.ListCriteria) ([]*entities.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Topic
	for _, topic := range r.topics {
		if topic.Scope == scope {
			out = append(out, topic)
		}
	}
	return out, nil
}

func (r *memTopics) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, topic := range r.topics {
		if topic.ID == id {
			r.topics = append(r.topics[:i], r.topics[i+1:]...)
			return nil
		}
	}
	return pkgerrors.ErrTopicNotFound
}

// memRow is one persisted map in memMaps.
type memRow struct {
	id        string
	topicID   string
	topicSlug string
	title     string
	graph     *versioning.StoredGraph
	version   int
	updatedAt time.Time
}

// memMaps is an in-memory MindMapRepository with the conditional-write
// behavior of the real one.
type memMaps struct {
	mu   sync.Mutex
	rows []*memRow
}

func (r *memMaps) rebuild(row *memRow) (*aggregates.MindMap, error) {
	ts := row.updatedAt.Format(time.RFC3339)
	return aggregates.ReconstructMindMap(
		row.id, row.topicID, row.topicSlug, row.title,
		row.graph.Nodes, row.graph.Edges, row.graph.Chapters, row.graph.Sections,
		row.graph.Status, ts, ts, row.version, nil,
	)
}

func (r *memMaps) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *memMaps) GetByID(ctx context.Context, id string) (*aggregates.MindMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.id == id {
			return r.rebuild(row)
		}
	}
	return nil, pkgerrors.ErrMindMapNotFound
}

func (r *memMaps) GetLiveByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.topicID == topicID && row.graph.Status == aggregates.StatusLive {
			return r.rebuild(row)
		}
	}
	return nil, pkgerrors.ErrMindMapNotFound
}

func (r *memMaps) GetLatestByTopic(ctx context.Context, topicID string) (*aggregates.MindMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *memRow
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

func (r *memMaps) Create(ctx context.Context, m *aggregates.MindMap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Status() == aggregates.StatusLive {
		for _, row := range r.rows {
			if row.topicID == m.TopicID() && row.graph.Status == aggregates.StatusLive {
				return pkgerrors.ErrLiveMindMapExists
			}
		}
	}
	r.rows = append(r.rows, &memRow{
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

func (r *memMaps) UpdateGraph(ctx context.Context, mapID string, graph *versioning.StoredGraph, expectedVersion int) error {
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

func (r *memMaps) Delete(ctx context.Context, id string) error {
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

func (r *memMaps) DeleteByTopic(ctx context.Context, topicID string) error {
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

// memContent is an in-memory ContentRepository.
type memContent struct {
	mu       sync.Mutex
	chapters map[string][]*entities.Chapter
	sections map[string][]*entities.ContentSection
}

func newMemContent() *memContent {
	return &memContent{
		chapters: make(map[string][]*entities.Chapter),
		sections: make(map[string][]*entities.ContentSection),
	}
}

func (r *memContent) SaveChapters(ctx context.Context, topicID string, chapters []*entities.Chapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chapters[topicID] = chapters
	return nil
}

func (r *memContent) SaveSection(ctx context.Context, topicID string, section *entities.ContentSection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.sections[topicID] {
		if existing.ID == section.ID {
			r.sections[topicID][i] = section
			return nil
		}
	}
	r.sections[topicID] = append(r.sections[topicID], section)
	return nil
}

func (r *memContent) GetChapters(ctx context.Context, topicID string) ([]*entities.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chapters[topicID], nil
}

func (r *memContent) GetSections(ctx context.Context, topicID string) ([]*entities.ContentSection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sections[topicID], nil
}

func (r *memContent) DeleteByTopic(ctx context.Context, topicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chapters, topicID)
	delete(r.sections, topicID)
	return nil
}

// memChecks is an in-memory CheckRepository.
type memChecks struct {
	mu      sync.Mutex
	records []*entities.Check
}

func (r *memChecks) Record(ctx context.Context, check *entities.Check) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, check)
	return nil
}

func (r *memChecks) ListByChapter(ctx context.Context, chapterID string) ([]*entities.Check, error) {
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

// memCache is an in-memory ContentCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string]*versioning.StoredGraph
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*versioning.StoredGraph)}
}

func (c *memCache) Get(ctx context.Context, key string) (*versioning.StoredGraph, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	graph, ok := c.entries[key]
	return graph, ok
}

func (c *memCache) Put(ctx context.Context, key string, content *versioning.StoredGraph) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = content
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// memLock is an in-memory GenerationLock.
type memLock struct {
	mu       sync.Mutex
	held     map[string]string
	acquires int
}

func newMemLock() *memLock {
	return &memLock{held: make(map[string]string)}
}

func (l *memLock) Acquire(ctx context.Context, resourceID, ownerID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[resourceID]; taken {
		return false, nil
	}
	l.held[resourceID] = ownerID
	l.acquires++
	return true, nil
}

func (l *memLock) Release(ctx context.Context, resourceID, ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[resourceID] == ownerID {
		delete(l.held, resourceID)
	}
	return nil
}

func (l *memLock) acquireCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquires
}

// memOutbox records appended events.
type memOutbox struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (o *memOutbox) Append(ctx context.Context, evts []events.DomainEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, evts...)
	return nil
}

func (o *memOutbox) FetchPending(ctx context.Context, limit int) ([]ports.OutboxEntry, error) {
	return nil, nil
}

func (o *memOutbox) MarkDispatched(ctx context.Context, ids []string) error { return nil }

func (o *memOutbox) MarkFailed(ctx context.Context, ids []string) error { return nil }

func (o *memOutbox) types() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.GetEventType())
	}
	return out
}

// memBackend serves the scripted stream and counts opens. The stream
// is swappable mid-test for expansion and failure scenarios.
type memBackend struct {
	mu     sync.Mutex
	stream []byte
	opens  int
}

func newMemBackend(stream []byte) *memBackend {
	return &memBackend{stream: stream}
}

func (b *memBackend) Open(ctx context.Context, req ports.GenerationRequest) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	return io.NopCloser(bytes.NewReader(b.stream)), nil
}

func (b *memBackend) setStream(stream []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = stream
}

func (b *memBackend) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}
