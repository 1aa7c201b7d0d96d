// Package config reads papercloud settings from defaults, an optional file
// and PAPERCLOUD_* environment variables.
package config

import (
	"fmt"
	"io"
	"math"
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"golang.org/x/text/encoding"
	"gonum.org/v1/gonum/spatial/r3"

	"web/papercloud/animation"
	"web/papercloud/paper"
	"web/papercloud/render"
	"web/papercloud/textenc"
)

// EnvPrefix prefixes every environment override, e.g. PAPERCLOUD_SESSION_SPEED.
const EnvPrefix = "PAPERCLOUD"

// Config manages settings using Viper
type Config struct {
	v    *viper.Viper
	file string
}

// New creates a configuration with defaults
func New() *Config {
	v := viper.New()

	v.SetDefault("data.path", "data/papers.csv")
	v.SetDefault("data.delimiter", ",")
	v.SetDefault("data.encoding", "")

	v.SetDefault("cluster.axis", "planar")
	v.SetDefault("cluster.cache_dir", "data/hulls")
	v.SetDefault("cluster.compress", true)
	v.SetDefault("cluster.export_obj", false)
	v.SetDefault("cluster.skip_degenerate", false)
	v.SetDefault("cluster.workers", runtime.NumCPU())

	v.SetDefault("session.speed", 20.0)
	v.SetDefault("session.depth", paper.MinDepth)
	v.SetDefault("session.view_mode", "default")
	v.SetDefault("session.rewind", "hold")

	v.SetDefault("render.fps", 30)
	v.SetDefault("render.scale", 1.0)
	v.SetDefault("render.camera.x", 0.0)
	v.SetDefault("render.camera.y", 0.0)
	v.SetDefault("render.camera.z", 3.0)
	v.SetDefault("render.max_bars", 12)

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.grpc_address", ":50051")
	v.SetDefault("server.max_sessions", 5)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{v: v}
}

// Load creates a configuration and reads path on top of the defaults when
// path is not empty. The format follows the file extension.
func Load(path string) (*Config, error) {
	c := New()
	if path == "" {
		return c, nil
	}
	if err := c.LoadFromFile(path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFromFile loads configuration from file
func (c *Config) LoadFromFile(path string) error {
	c.v.SetConfigFile(path)
	if err := c.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	c.file = path
	return nil
}

// File is the config file in use, "" when running on defaults.
func (c *Config) File() string { return c.file }

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

func (c *Config) DataPath() string { return c.v.GetString("data.path") }
func (c *Config) DataEncoding() string { return c.v.GetString("data.encoding") }

// Delimiter is the first rune of data.delimiter, ',' when unset.
func (c *Config) Delimiter() rune {
	for _, r := range c.v.GetString("data.delimiter") {
		return r
	}
	return ','
}

// Encoding resolves data.encoding, falling back to the locale.
func (c *Config) Encoding() (encoding.Encoding, error) {
	return textenc.Lookup(c.DataEncoding())
}

// Axis is the clustering the index is built on.
func (c *Config) Axis() (paper.Axis, error) {
	return paper.ParseAxis(c.v.GetString("cluster.axis"))
}

func (c *Config) CacheDir() string { return c.v.GetString("cluster.cache_dir") }
func (c *Config) Compress() bool { return c.v.GetBool("cluster.compress") }
func (c *Config) ExportOBJ() bool { return c.v.GetBool("cluster.export_obj") }
func (c *Config) SkipDegenerate() bool { return c.v.GetBool("cluster.skip_degenerate") }
func (c *Config) Workers() int { return c.v.GetInt("cluster.workers") }

func (c *Config) FPS() int { return c.v.GetInt("render.fps") }
func (c *Config) Scale() float64 { return c.v.GetFloat64("render.scale") }
func (c *Config) MaxBars() int { return c.v.GetInt("render.max_bars") }

// Camera is the fixed eye position used to order hulls.
func (c *Config) Camera() r3.Vec {
	return r3.Vec{
		X: c.v.GetFloat64("render.camera.x"),
		Y: c.v.GetFloat64("render.camera.y"),
		Z: c.v.GetFloat64("render.camera.z"),
	}
}

func (c *Config) Address() string { return c.v.GetString("server.address") }
func (c *Config) GRPCAddress() string { return c.v.GetString("server.grpc_address") }
func (c *Config) MaxSessions() int { return c.v.GetInt("server.max_sessions") }
func (c *Config) AllowedOrigins() []string { return c.v.GetStringSlice("server.allowed_origins") }

func (c *Config) LogLevel() string { return c.v.GetString("logging.level") }

// CreateLogger creates a zerolog logger based on config
func (c *Config) CreateLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}).Level(level).With().Timestamp().Str("service", "papercloud").Logger()
}

// SessionValues reads the session.* keys.
func (c *Config) SessionValues() (Values, error) {
	mode, err := render.ParseViewMode(c.v.GetString("session.view_mode"))
	if err != nil {
		return Values{}, fmt.Errorf("failed to read session.view_mode: %w", err)
	}
	rewind, err := animation.ParseRewindPolicy(c.v.GetString("session.rewind"))
	if err != nil {
		return Values{}, fmt.Errorf("failed to read session.rewind: %w", err)
	}
	speed := c.v.GetFloat64("session.speed")
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		return Values{}, fmt.Errorf("session.speed must be finite, got %v", speed)
	}
	return Values{
		Speed:    speed,
		Depth:    paper.ClampDepth(c.v.GetInt("session.depth")),
		ViewMode: mode,
		Rewind:   rewind,
	}, nil
}

// Session builds the mutable session settings.
func (c *Config) Session() (*Session, error) {
	vals, err := c.SessionValues()
	if err != nil {
		return nil, err
	}
	return NewSession(vals), nil
}

// Watch reloads the config file on change and applies the session keys to s.
// Invalid values are logged and leave s untouched. It does nothing when no
// file is in use.
func (c *Config) Watch(s *Session, log zerolog.Logger) {
	if c.file == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		vals, err := c.SessionValues()
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid config reload")
			return
		}
		s.Store(vals)
		log.Info().
			Str("file", e.Name).
			Float64("speed", vals.Speed).
			Int("depth", vals.Depth).
			Stringer("view_mode", vals.ViewMode).
			Stringer("rewind", vals.Rewind).
			Msg("Session config reloaded")
	})
	c.v.WatchConfig()
}
