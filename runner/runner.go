// Package runner keeps exploration sessions in memory and serves them over
// gRPC.
package runner

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"web/papercloud/cluster"
	"web/papercloud/config"
	"web/papercloud/paper"
	"web/papercloud/render"
	"web/papercloud/scene"
	"web/papercloud/textenc"
)

type session struct {
	mu    sync.Mutex // serializes frames
	info  SessionInfo
	scene *scene.Scene
}

// Option configures a SessionRunner.
type Option func(*SessionRunner)

func WithLogger(l zerolog.Logger) Option {
	return func(r *SessionRunner) { r.log = l }
}

// WithIdleTimeout sets how long an untouched session survives.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *SessionRunner) { r.idleTimeout = d }
}

// WithLocale sets the collation used for summary labels.
func WithLocale(tag language.Tag) Option {
	return func(r *SessionRunner) { r.tag = tag }
}

// WithDefaults sets the settings a new session starts from.
func WithDefaults(v config.Values) Option {
	return func(r *SessionRunner) { r.defaults = v }
}

// SessionRunner holds at most maxSessions scenes, evicting the least
// recently used one when full.
type SessionRunner struct {
	sessions     map[string]*session
	sessionLock  sync.RWMutex
	lastAccessed map[string]time.Time
	maxSessions  int
	idleTimeout  time.Duration
	defaults     config.Values
	tag          language.Tag
	log          zerolog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func NewSessionRunner(maxSessions int, opts ...Option) *SessionRunner {
	r := &SessionRunner{
		sessions:     make(map[string]*session),
		lastAccessed: make(map[string]time.Time),
		maxSessions:  max(1, maxSessions),
		idleTimeout:  30 * time.Minute,
		defaults:     config.Values{Speed: 20, Depth: paper.MinDepth},
		tag:          language.English,
		log:          zerolog.Nop(),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.cleanupInactiveSessions()

	return r
}

func (r *SessionRunner) cleanupInactiveSessions() {
	interval := min(5*time.Minute, max(time.Second, r.idleTimeout/2))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.evictIdle(now)
		}
	}
}

func (r *SessionRunner) evictIdle(now time.Time) {
	r.sessionLock.Lock()
	defer r.sessionLock.Unlock()

	for id, lastAccess := range r.lastAccessed {
		if now.Sub(lastAccess) > r.idleTimeout {
			r.log.Info().Str("session", id).Dur("idle", now.Sub(lastAccess)).Msg("Closing inactive session")
			r.removeLocked(id)
		}
	}
}

func (r *SessionRunner) removeLocked(id string) bool {
	s, exists := r.sessions[id]
	if !exists {
		return false
	}
	// Wait for an in-flight Tick on this session before releasing it.
	s.mu.Lock()
	err := s.scene.Close()
	s.mu.Unlock()
	if err != nil {
		r.log.Warn().Err(err).Str("session", id).Msg("Failed to release session renderer")
	}
	delete(r.sessions, id)
	delete(r.lastAccessed, id)
	return true
}

// Stop closes every session and ends the cleanup loop.
func (r *SessionRunner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.sessionLock.Lock()
		defer r.sessionLock.Unlock()
		for id := range r.sessions {
			r.removeLocked(id)
		}
	})
}

func (r *SessionRunner) Create(ctx context.Context, req *CreateRequest) (*SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	if req.Path == "" && req.NumPapers <= 0 {
		return nil, status.Error(codes.InvalidArgument, "either path or a positive numPapers is required")
	}
	axis, err := paper.ParseAxis(req.Axis)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	enc, err := textenc.Lookup(req.Encoding)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	settings := config.NewSession(r.defaults)
	if _, err := settings.Apply(req.Settings); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	store := paper.NewStore(
		paper.WithLogger(r.log),
		paper.WithEncoding(enc),
		paper.WithDelimiter(delimiter(req.Delimiter)),
	)
	source := req.Path
	if req.Path != "" {
		if _, err := store.Load(req.Path); err != nil {
			return nil, loadStatus(err)
		}
	} else {
		opts := paper.DefaultSyntheticOptions()
		if req.Seed != 0 {
			opts.Seed = req.Seed
		}
		opts.Delimiter = delimiter(req.Delimiter)
		var buf bytes.Buffer
		if err := paper.WriteSynthetic(&buf, req.NumPapers, opts); err != nil {
			return nil, status.Errorf(codes.Internal, "failed to generate papers: %v", err)
		}
		if _, err := store.LoadReader(&buf); err != nil {
			return nil, loadStatus(err)
		}
		source = "synthetic"
	}

	ix := cluster.Build(store.Papers(), cluster.Options{Axis: axis})
	meshes, hulls, err := r.openCache(req.CacheDir)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to open hull cache: %v", err)
	}

	sc, err := scene.New(store, ix, scene.Options{Session: settings, Meshes: meshes, Logger: r.log})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to create scene: %v", err)
	}

	s := &session{scene: sc}
	s.info = SessionInfo{
		ID:          uuid.New().String()[:8],
		Source:      source,
		Axis:        axis.String(),
		NumPapers:   store.Len(),
		NumIncluded: store.NumIncluded(),
		LastIndex:   store.LastIndex(),
		Clusters:    clusterCounts(ix),
		Hulls:       hulls,
		StoreSize:   store.Size(),
		Created:     time.Now(),
	}

	r.sessionLock.Lock()
	if len(r.sessions) >= r.maxSessions {
		r.evictOldestLocked()
	}
	r.sessions[s.info.ID] = s
	r.lastAccessed[s.info.ID] = time.Now()
	r.sessionLock.Unlock()

	r.log.Info().
		Str("session", s.info.ID).
		Str("source", source).
		Int("papers", s.info.NumPapers).
		Int("hulls", hulls).
		Msg("Session created")

	info := s.info
	info.Settings = settings.Load()
	return &info, nil
}

func (r *SessionRunner) evictOldestLocked() {
	var oldestID string
	var oldestTime time.Time
	first := true

	for id, accessTime := range r.lastAccessed {
		if first || accessTime.Before(oldestTime) {
			oldestID = id
			oldestTime = accessTime
			first = false
		}
	}

	if oldestID != "" {
		r.log.Info().Str("session", oldestID).Msg("Evicting least recently used session")
		r.removeLocked(oldestID)
	}
}

func (r *SessionRunner) openCache(dir string) (render.MeshSource, int, error) {
	if dir == "" {
		return render.NoMeshes{}, 0, nil
	}
	cache, err := cluster.OpenCache(dir, r.log)
	if errors.Is(err, cluster.ErrCacheMissing) {
		r.log.Warn().Str("dir", dir).Msg("No hull cache, drawing centroids only")
		return render.NoMeshes{}, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return cache, cache.Len(), nil
}

func (r *SessionRunner) get(id string) (*session, error) {
	r.sessionLock.Lock()
	defer r.sessionLock.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return nil, status.Errorf(codes.NotFound, "session %s not found", id)
	}
	r.lastAccessed[id] = time.Now()
	return s, nil
}

func (r *SessionRunner) Tick(ctx context.Context, req *TickRequest) (*FrameResponse, error) {
	if math.IsNaN(req.Elapsed) || math.IsInf(req.Elapsed, 0) {
		return nil, status.Errorf(codes.InvalidArgument, "elapsed must be finite, got %v", req.Elapsed)
	}
	s, err := r.get(req.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.scene.Session().Apply(req.Settings); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Reset {
		s.scene.Reset()
	}
	if _, err := s.scene.Frame(req.Elapsed); err != nil {
		if errors.Is(err, scene.ErrClosed) {
			return nil, status.Errorf(codes.NotFound, "session %s closed", req.ID)
		}
		return nil, status.Errorf(codes.Internal, "failed to run frame: %v", err)
	}
	return s.frame(), nil
}

func (r *SessionRunner) Get(ctx context.Context, req *GetRequest) (*FrameResponse, error) {
	s, err := r.get(req.ID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame(), nil
}

func (r *SessionRunner) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	r.sessionLock.RLock()
	sessions := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		info := s.info
		info.Settings = s.scene.Session().Load()
		sessions = append(sessions, info)
	}
	r.sessionLock.RUnlock()

	// Newest first
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].Created.Equal(sessions[j].Created) {
			return sessions[i].Created.After(sessions[j].Created)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return &ListResponse{Sessions: sessions}, nil
}

func (r *SessionRunner) Summary(ctx context.Context, req *SummaryRequest) (*SummaryResponse, error) {
	s, err := r.get(req.ID)
	if err != nil {
		return nil, err
	}
	depth := req.Depth
	if depth == 0 {
		depth = s.scene.Session().Depth()
	}
	return &SummaryResponse{
		ID:      req.ID,
		Summary: cluster.Summarize(s.scene.Index(), depth, r.tag),
	}, nil
}

func (r *SessionRunner) Close(ctx context.Context, req *CloseRequest) (*CloseResponse, error) {
	r.sessionLock.Lock()
	defer r.sessionLock.Unlock()
	closed := r.removeLocked(req.ID)
	if closed {
		r.log.Info().Str("session", req.ID).Msg("Session closed")
	}
	return &CloseResponse{Closed: closed}, nil
}
