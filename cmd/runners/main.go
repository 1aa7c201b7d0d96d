package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"web/papercloud/config"
	"web/papercloud/runner"
	"web/papercloud/textenc"
)

func main() {
	// Parse command line flags
	port := flag.Int("port", 50051, "The gRPC server port")
	maxSessions := flag.Int("max-sessions", 5, "Maximum number of sessions to keep in memory")
	idle := flag.Duration("idle", 30*time.Minute, "Close sessions untouched for this long")
	configFile := flag.String("config", "", "Optional config file for session defaults")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Set("logging.level", *logLevel)
	log := cfg.CreateLogger(os.Stderr)

	defaults, err := cfg.SessionValues()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid session defaults")
	}

	// Create listener
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		log.Fatal().Err(err).Int("port", *port).Msg("Failed to listen")
	}

	// Create gRPC server
	s := grpc.NewServer()
	sessionRunner := runner.NewSessionRunner(*maxSessions,
		runner.WithLogger(log),
		runner.WithIdleTimeout(*idle),
		runner.WithLocale(textenc.Locale()),
		runner.WithDefaults(defaults),
	)
	runner.Register(s, sessionRunner)

	// Enable reflection for debugging
	reflection.Register(s)

	// Handle shutdown gracefully
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info().Msg("Shutting down gRPC server")
		s.GracefulStop()
		sessionRunner.Stop()
	}()

	// Start server
	log.Info().Int("port", *port).Int("max_sessions", *maxSessions).Msg("Starting gRPC session runner")
	if err := s.Serve(lis); err != nil {
		log.Fatal().Err(err).Msg("Failed to serve")
	}
}
