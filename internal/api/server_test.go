package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/impact-crawler/internal/config"
	"github.com/JakeFAU/impact-crawler/internal/impact"
	pubmemory "github.com/JakeFAU/impact-crawler/internal/publisher/memory"
	storememory "github.com/JakeFAU/impact-crawler/internal/storage/memory"
	"github.com/JakeFAU/impact-crawler/internal/supervisor"
	"github.com/JakeFAU/impact-crawler/internal/worker"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(newFakeDirectory()), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	srv := NewServer(newFakeDirectory(), &fakePinger{}, config.Config{}, zap.NewNop())
	rec := serve(t, srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	srv = NewServer(newFakeDirectory(), &fakePinger{err: errors.New("down")}, config.Config{}, zap.NewNop())
	rec = serve(t, srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(newFakeDirectory()), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_ListPlatforms(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	dir.sites["github"].queueLen = 3
	rec := serve(t, newTestServer(dir), http.MethodGet, "/v1/platforms")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Platforms []platformDTO `json:"platforms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Platforms, 1)
	assert.Equal(t, impact.Platform("github"), body.Platforms[0].Name)
	assert.Equal(t, "running", body.Platforms[0].Worker)
	assert.Equal(t, 3, body.Platforms[0].QueueDepth)
}

func TestServer_UnknownPlatform(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(newFakeDirectory()), http.MethodGet, "/v1/myspace/metadata")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown platform")
}

func TestServer_Metadata(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	srv := newTestServer(dir)

	rec := serve(t, srv, http.MethodGet, "/v1/github/metadata")
	require.Equal(t, http.StatusNotFound, rec.Code)

	dir.sites["github"].setMetadata(impact.Metadata{
		Platform:       impact.PlatformInfo{Name: "github"},
		Stats:          impact.PlatformStats{Platform: "github", Count: 2, Mean: 4},
		TargetEntities: impact.UnknownTarget,
	})
	rec = serve(t, srv, http.MethodGet, "/v1/github/metadata")
	require.Equal(t, http.StatusOK, rec.Code)

	var meta impact.Metadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.EqualValues(t, 2, meta.Stats.Count)
	assert.Equal(t, impact.UnknownTarget, meta.TargetEntities)
}

func TestServer_RankingParams(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	site := dir.sites["github"]
	site.top = []impact.ScoredEntity{{Identifier: "alice", Score: 9}}
	site.total = 7
	srv := newTestServer(dir)

	rec := serve(t, srv, http.MethodGet, "/v1/github/ranking?page=2&per_page=500")
	require.Equal(t, http.StatusOK, rec.Code)

	var body rankingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 7, body.Total)
	assert.Equal(t, 2, body.Page)
	assert.Equal(t, supervisor.MaxPerPage, body.PerPage)
	assert.Equal(t, [2]int{2, supervisor.MaxPerPage}, site.lastPage)
	require.Len(t, body.Entries, 1)

	rec = serve(t, srv, http.MethodGet, "/v1/github/ranking?page=abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Search(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	dir.sites["github"].found = []impact.ScoredEntity{{Identifier: "alice"}}
	srv := newTestServer(dir)

	rec := serve(t, srv, http.MethodGet, "/v1/github/search")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/v1/github/search?q=ali&limit=0")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "alice")
	assert.Equal(t, "ali", dir.sites["github"].lastQuery)
	assert.Equal(t, 1, dir.sites["github"].lastLimit)
}

func TestServer_GetEntityScoresWhenAbsent(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	site := dir.sites["github"]
	site.scored = impact.ScoredEntity{Identifier: "alice", Score: 4}
	site.percentile = 75
	srv := newTestServer(dir)

	rec := serve(t, srv, http.MethodGet, "/v1/github/entities/alice")
	require.Equal(t, http.StatusOK, rec.Code)

	var body entityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 4, body.Entity.Score)
	assert.InDelta(t, 75.0, body.Percentile, 1e-9)
	assert.Equal(t, 1, site.scoreCalls())
}

func TestServer_GetEntityStoredSkipsScoring(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	site := dir.sites["github"]
	site.stored = map[string]impact.ScoredEntity{"alice": {Identifier: "alice", Score: 2}}
	rec := serve(t, newTestServer(dir), http.MethodGet, "/v1/github/entities/alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, site.scoreCalls())
}

func TestServer_GetEntityUnscorable(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	dir.sites["github"].scoreErr = fmt.Errorf("%w: upstream 500", impact.ErrFetch)
	rec := serve(t, newTestServer(dir), http.MethodGet, "/v1/github/entities/ghost")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ScoreErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: fmt.Errorf("%w: %w", impact.ErrFetch, impact.ErrNotFound), want: http.StatusNotFound},
		{name: "fetch", err: fmt.Errorf("%w: timeout", impact.ErrFetch), want: http.StatusBadGateway},
		{name: "store", err: fmt.Errorf("%w: disk", impact.ErrStore), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := newFakeDirectory()
			dir.sites["github"].scoreErr = tt.err
			rec := serve(t, newTestServer(dir), http.MethodPost, "/v1/github/entities/alice/score")
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_Percentile(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	site := dir.sites["github"]
	srv := newTestServer(dir)

	rec := serve(t, srv, http.MethodGet, "/v1/github/entities/alice/percentile")
	require.Equal(t, http.StatusNotFound, rec.Code)

	site.stored = map[string]impact.ScoredEntity{"alice": {Identifier: "alice"}}
	site.percentile = 66.67
	rec = serve(t, srv, http.MethodGet, "/v1/github/entities/alice/percentile")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "66.67")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	srv := NewServer(newFakeDirectory(), nil, cfg, zap.NewNop())

	rec := serve(t, srv, http.MethodGet, "/v1/platforms")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/platforms", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/v1/platforms?api_key=secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory()
	dir.sites["github"].panicOnMetadata = true
	rec := serve(t, newTestServer(dir), http.MethodGet, "/v1/github/metadata")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(newFakeDirectory()), http.MethodGet, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	newTestServer(newFakeDirectory()).Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

func TestServer_WithSupervisor(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{metrics: map[string][]int64{"alice": {10, 8, 5, 4, 3}}}
	store := storememory.NewEntityStore(&counterIDs{}, fixedClock{})
	sup, err := supervisor.New([]impact.Adapter{adapter}, supervisor.Deps{
		Store:     store,
		Publisher: pubmemory.New(),
		Clock:     fixedClock{},
		Topic:     "scores",
	}, supervisor.Config{QueueCapacity: 10, Worker: worker.Config{IdleBackoff: time.Millisecond, ErrorBackoff: time.Millisecond}}, zap.NewNop())
	require.NoError(t, err)
	srv := NewServer(FromSupervisor(sup), nil, config.Config{}, zap.NewNop())

	rec := serve(t, srv, http.MethodGet, "/v1/stub/entities/alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var body entityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 4, body.Entity.Score)
	assert.InDelta(t, 100.0, body.Percentile, 1e-9)

	rec = serve(t, srv, http.MethodGet, "/v1/stub/entities/nobody")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/v1/stub/metadata")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/v1/stub/ranking?page=4611686018427387903&per_page=4")
	require.Equal(t, http.StatusOK, rec.Code)
	var ranking rankingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ranking))
	assert.Empty(t, ranking.Entries)
	assert.EqualValues(t, 1, ranking.Total)

	rec = serve(t, srv, http.MethodGet, "/v1/unknown/ranking")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// --- helpers/fakes ---

func serve(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func newTestServer(dir Directory) *Server {
	return NewServer(dir, nil, config.Config{}, zap.NewNop())
}

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(context.Context) error {
	return p.err
}

type fakeDirectory struct {
	sites map[impact.Platform]*fakeSite
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{sites: map[impact.Platform]*fakeSite{"github": {}}}
}

func (d *fakeDirectory) Lookup(platform impact.Platform) (SiteService, error) {
	site, ok := d.sites[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", impact.ErrUnknownPlatform, platform)
	}
	return site, nil
}

func (d *fakeDirectory) Platforms() []impact.PlatformInfo {
	return []impact.PlatformInfo{{Name: "github"}}
}

type fakeSite struct {
	mu              sync.Mutex
	stored          map[string]impact.ScoredEntity
	scored          impact.ScoredEntity
	scoreErr        error
	scores          int
	percentile      float64
	top             []impact.ScoredEntity
	total           int64
	lastPage        [2]int
	found           []impact.ScoredEntity
	lastQuery       string
	lastLimit       int
	metadata        *impact.Metadata
	panicOnMetadata bool
	queueLen        int
}

func (s *fakeSite) Score(_ context.Context, key string) (impact.ScoredEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores++
	if s.scoreErr != nil {
		return impact.ScoredEntity{}, s.scoreErr
	}
	if s.stored == nil {
		s.stored = map[string]impact.ScoredEntity{}
	}
	s.stored[key] = s.scored
	return s.scored, nil
}

func (s *fakeSite) scoreCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores
}

func (s *fakeSite) RetrieveEntity(_ context.Context, key string) (impact.ScoredEntity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.stored[key]
	return e, ok
}

func (s *fakeSite) GetEntityStats(context.Context, string) float64 {
	return s.percentile
}

func (s *fakeSite) GetTopEntities(_ context.Context, page, perPage int) ([]impact.ScoredEntity, int64, error) {
	s.lastPage = [2]int{page, perPage}
	return s.top, s.total, nil
}

func (s *fakeSite) SearchEntities(_ context.Context, query string, limit int) ([]impact.ScoredEntity, error) {
	s.lastQuery = query
	s.lastLimit = limit
	return s.found, nil
}

func (s *fakeSite) setMetadata(meta impact.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = &meta
}

func (s *fakeSite) GetMetadata(context.Context) (impact.Metadata, error) {
	if s.panicOnMetadata {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		return impact.Metadata{}, fmt.Errorf("load stats: %w", impact.ErrNotFound)
	}
	return *s.metadata, nil
}

func (s *fakeSite) WorkerState() worker.State { return worker.StateRunning }

func (s *fakeSite) QueueLen() int { return s.queueLen }

type stubAdapter struct {
	metrics map[string][]int64
}

func (a *stubAdapter) Info() impact.PlatformInfo {
	return impact.PlatformInfo{Name: "stub", EntityName: "user", MetricName: "points"}
}

func (a *stubAdapter) FetchRecords(_ context.Context, key string) (impact.EntityInfo, error) {
	values, ok := a.metrics[key]
	if !ok {
		return impact.EntityInfo{}, fmt.Errorf("%w: %w: %s", impact.ErrFetch, impact.ErrNotFound, key)
	}
	info := impact.EntityInfo{Metadata: impact.EntityMetadata{Key: key, URL: "https://stub.test/" + key}}
	for _, v := range values {
		info.Records = append(info.Records, impact.Record{Metric: v, MetricType: "points"})
	}
	return info, nil
}

func (a *stubAdapter) FetchRelations(context.Context, string) ([]string, error) {
	return nil, nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

type counterIDs struct {
	mu sync.Mutex
	n  int
}

func (c *counterIDs) NewID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return fmt.Sprintf("id-%03d", c.n), nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
