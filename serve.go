package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"web/papercloud/animation"
	"web/papercloud/cluster"
	"web/papercloud/config"
	"web/papercloud/render"
	"web/papercloud/scene"
	"web/papercloud/textenc"
)

// SceneServer serializes access to one scene between the frame loop and
// the HTTP handlers.
type SceneServer struct {
	mu    sync.Mutex
	scene *scene.Scene
	log   zerolog.Logger
}

func NewSceneServer(sc *scene.Scene, log zerolog.Logger) *SceneServer {
	return &SceneServer{scene: sc, log: log}
}

// Frame advances the scene by elapsed seconds.
func (s *SceneServer) Frame(elapsed float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.scene.Frame(elapsed)
	return err
}

// Run drives frames at fps until ctx is done or the scene is closed.
func (s *SceneServer) Run(ctx context.Context, fps int) {
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			err := s.Frame(now.Sub(last).Seconds())
			if errors.Is(err, scene.ErrClosed) {
				return
			}
			if err != nil {
				s.log.Error().Err(err).Msg("Frame failed")
			}
			last = now
		}
	}
}

// Cleanup releases the scene.
func (s *SceneServer) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.scene.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release renderer")
	}
}

type stateResponse struct {
	Snapshot animation.Snapshot `json:"snapshot"`
	Plan     render.FramePlan   `json:"plan"`
	Settings config.Values      `json:"settings"`
}

type clusterView struct {
	ID       int        `json:"id"`
	Label    string     `json:"label"`
	Count    int        `json:"count"`
	Passed   bool       `json:"passed"`
	Centroid [3]float64 `json:"centroid"`
	Min      [3]float64 `json:"min"`
	Max      [3]float64 `json:"max"`
}

func (s *SceneServer) state() stateResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stateResponse{
		Snapshot: s.scene.Snapshot(),
		Plan:     s.scene.LastPlan(),
		Settings: s.scene.Session().Load(),
	}
}

// depth reads ?depth=, defaulting to the session depth.
func (s *SceneServer) depth(c *gin.Context) (int, bool) {
	q := c.Query("depth")
	if q == "" {
		return s.scene.Session().Depth(), true
	}
	d, err := strconv.Atoi(q)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid depth parameter"})
		return 0, false
	}
	return d, true
}

func newRouter(server *SceneServer, reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, server.state())
	})

	// Point instances, five floats each: x, y, z, included, index
	r.GET("/api/instances", func(c *gin.Context) {
		instances := server.scene.Instances()
		c.JSON(http.StatusOK, gin.H{
			"stride":    5,
			"count":     len(instances) / 5,
			"instances": instances,
		})
	})

	r.GET("/api/clusters", func(c *gin.Context) {
		depth, ok := server.depth(c)
		if !ok {
			return
		}
		snap := server.state().Snapshot
		clusters := server.scene.Index().Clusters(depth)
		views := make([]clusterView, 0, len(clusters))
		for _, cl := range clusters {
			views = append(views, clusterView{
				ID:       cl.ID,
				Label:    cl.Label,
				Count:    cl.Count,
				Passed:   snap.Depth == cl.Depth && snap.IsPassed(cl.ID),
				Centroid: [3]float64{cl.Centroid.X, cl.Centroid.Y, cl.Centroid.Z},
				Min:      [3]float64{cl.Bounds.Min.X, cl.Bounds.Min.Y, cl.Bounds.Min.Z},
				Max:      [3]float64{cl.Bounds.Max.X, cl.Bounds.Max.Y, cl.Bounds.Max.Z},
			})
		}
		c.JSON(http.StatusOK, views)
	})

	r.GET("/api/clusters/summary", func(c *gin.Context) {
		depth, ok := server.depth(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, cluster.Summarize(server.scene.Index(), depth, textenc.Locale()))
	})

	r.POST("/api/session", func(c *gin.Context) {
		var u config.Update
		if err := c.BindJSON(&u); err != nil {
			return
		}
		vals, err := server.scene.Session().Apply(u)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		server.log.Info().
			Float64("speed", vals.Speed).
			Int("depth", vals.Depth).
			Stringer("view_mode", vals.ViewMode).
			Stringer("rewind", vals.Rewind).
			Msg("Session updated")
		c.JSON(http.StatusOK, vals)
	})

	r.POST("/api/session/reset", func(c *gin.Context) {
		server.mu.Lock()
		server.scene.Reset()
		server.mu.Unlock()
		c.JSON(http.StatusOK, server.state())
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return r
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the exploration and serve its state over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Set("server.address", addr)
			}
			store, ix, err := loadDataset(cfg, log, false)
			if err != nil {
				return err
			}
			meshes, err := openMeshes(cfg, log)
			if err != nil {
				return err
			}
			session, err := cfg.Session()
			if err != nil {
				return err
			}
			cfg.Watch(session, log)

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
			camera := cfg.Camera()
			layout := render.DefaultBarLayout()
			layout.MaxBars = cfg.MaxBars()
			sc, err := scene.New(store, ix, scene.Options{
				Session: session,
				Camera:  &camera,
				Layout:  &layout,
				Scale:   cfg.Scale(),
				Meshes:  meshes,
				Metrics: scene.NewMetrics(reg),
				Logger:  log,
			})
			if err != nil {
				return err
			}
			server := NewSceneServer(sc, log)
			defer server.Cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			done := make(chan struct{})
			go func() {
				defer close(done)
				server.Run(ctx, cfg.FPS())
			}()
			// Runs before Cleanup: the frame loop must be gone first.
			defer func() {
				stop()
				<-done
			}()

			gin.SetMode(gin.ReleaseMode)
			handler := cors.New(cors.Options{
				AllowedOrigins: cfg.AllowedOrigins(),
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Origin", "Content-Type"},
			}).Handler(newRouter(server, reg))
			srv := &http.Server{Addr: cfg.Address(), Handler: handler}

			errc := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Address()).Int("papers", store.Len()).Msg("Starting server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			log.Info().Msg("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.address")
	return cmd
}
