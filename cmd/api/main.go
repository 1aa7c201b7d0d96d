package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"web/papercloud/config"
	"web/papercloud/runner"
)

// sessionClient is the part of runner.Client the gateway uses.
type sessionClient interface {
	Create(ctx context.Context, in *runner.CreateRequest, opts ...grpc.CallOption) (*runner.SessionInfo, error)
	Tick(ctx context.Context, in *runner.TickRequest, opts ...grpc.CallOption) (*runner.FrameResponse, error)
	Get(ctx context.Context, in *runner.GetRequest, opts ...grpc.CallOption) (*runner.FrameResponse, error)
	List(ctx context.Context, in *runner.ListRequest, opts ...grpc.CallOption) (*runner.ListResponse, error)
	Summary(ctx context.Context, in *runner.SummaryRequest, opts ...grpc.CallOption) (*runner.SummaryResponse, error)
	Close(ctx context.Context, in *runner.CloseRequest, opts ...grpc.CallOption) (*runner.CloseResponse, error)
}

type Server struct {
	sessionClient sessionClient
	log           zerolog.Logger

	mu               sync.RWMutex
	defaultSessionID string // most recently created session
}

func NewServer(client sessionClient, log zerolog.Logger) *Server {
	return &Server{sessionClient: client, log: log}
}

func (s *Server) defaultID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultSessionID
}

func (s *Server) setDefault(id string) {
	s.mu.Lock()
	s.defaultSessionID = id
	s.mu.Unlock()
}

// httpStatus maps a runner error to an HTTP status code.
func httpStatus(err error) int {
	switch status.Code(err) {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.DataLoss:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("Runner call failed")
	}
	msg := err.Error()
	if st, ok := status.FromError(err); ok {
		msg = st.Message()
	}
	c.JSON(code, gin.H{"error": msg})
}

func (s *Server) sessionID(c *gin.Context) (string, bool) {
	if id := c.Param("id"); id != "" {
		return id, true
	}
	if id := s.defaultID(); id != "" {
		return id, true
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "No sessions available"})
	return "", false
}

func newRouter(server *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// List sessions
	r.GET("/api/sessions", func(c *gin.Context) {
		resp, err := server.sessionClient.List(c.Request.Context(), &runner.ListRequest{})
		if err != nil {
			server.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, resp.Sessions)
	})

	// Create new session
	r.POST("/api/sessions", func(c *gin.Context) {
		var req runner.CreateRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		info, err := server.sessionClient.Create(c.Request.Context(), &req)
		if err != nil {
			server.fail(c, err)
			return
		}
		server.setDefault(info.ID)
		c.JSON(http.StatusOK, info)
	})

	getState := func(c *gin.Context) {
		id, ok := server.sessionID(c)
		if !ok {
			return
		}
		resp, err := server.sessionClient.Get(c.Request.Context(), &runner.GetRequest{ID: id})
		if err != nil {
			server.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
	r.GET("/api/state", getState)
	r.GET("/api/sessions/:id", getState)

	r.POST("/api/sessions/:id/tick", func(c *gin.Context) {
		var req runner.TickRequest
		if c.Request.ContentLength != 0 {
			if err := c.BindJSON(&req); err != nil {
				return
			}
		}
		req.ID = c.Param("id")
		resp, err := server.sessionClient.Tick(c.Request.Context(), &req)
		if err != nil {
			server.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	getSummary := func(c *gin.Context) {
		id, ok := server.sessionID(c)
		if !ok {
			return
		}
		depth := 0
		if q := c.Query("depth"); q != "" {
			d, err := strconv.Atoi(q)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid depth parameter"})
				return
			}
			depth = d
		}
		resp, err := server.sessionClient.Summary(c.Request.Context(), &runner.SummaryRequest{ID: id, Depth: depth})
		if err != nil {
			server.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, resp.Summary)
	}
	r.GET("/api/clusters/summary", getSummary)
	r.GET("/api/sessions/:id/summary", getSummary)

	r.DELETE("/api/sessions/:id", func(c *gin.Context) {
		id := c.Param("id")
		resp, err := server.sessionClient.Close(c.Request.Context(), &runner.CloseRequest{ID: id})
		if err != nil {
			server.fail(c, err)
			return
		}
		if !resp.Closed {
			c.JSON(http.StatusNotFound, gin.H{"error": "session " + id + " not found"})
			return
		}
		if server.defaultID() == id {
			server.setDefault("")
		}
		c.Status(http.StatusNoContent)
	})

	return r
}

func main() {
	runnerAddr := flag.String("runner", "localhost:50051", "Address of the session runner")
	addr := flag.String("addr", ":8000", "HTTP listen address")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	cfg := config.New()
	cfg.Set("logging.level", *logLevel)
	log := cfg.CreateLogger(os.Stderr)

	// Connect to session runner
	conn, err := grpc.NewClient(*runnerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal().Err(err).Str("runner", *runnerAddr).Msg("Failed to connect to session runner")
	}
	defer conn.Close()

	client := runner.NewClient(conn)
	server := NewServer(client, log)

	// Use the most recent session as default if any exist
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if resp, err := client.List(ctx, &runner.ListRequest{}); err == nil && len(resp.Sessions) > 0 {
		server.setDefault(resp.Sessions[0].ID)
	}
	cancel()

	gin.SetMode(gin.ReleaseMode)
	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type"},
	}).Handler(newRouter(server))

	srv := &http.Server{Addr: *addr, Handler: handler}

	// Create a channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", *addr).Str("runner", *runnerAddr).Msg("Starting API gateway")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for interrupt signal
	<-quit
	log.Info().Msg("Shutting down API gateway")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
