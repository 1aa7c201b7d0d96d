package runner

import (
	"time"

	"web/papercloud/animation"
	"web/papercloud/cluster"
	"web/papercloud/config"
	"web/papercloud/render"
)

// CreateRequest loads a dataset into a new session. Without a Path the
// session runs on NumPapers synthetic papers.
type CreateRequest struct {
	Path      string        `json:"path,omitempty"`
	Encoding  string        `json:"encoding,omitempty"`
	Delimiter string        `json:"delimiter,omitempty"`
	NumPapers int           `json:"numPapers,omitempty"`
	Seed      int64         `json:"seed,omitempty"`
	Axis      string        `json:"axis,omitempty"`
	CacheDir  string        `json:"cacheDir,omitempty"`
	Settings  config.Update `json:"settings"`
}

type SessionInfo struct {
	ID          string        `json:"id"`
	Source      string        `json:"source"`
	Axis        string        `json:"axis"`
	NumPapers   int           `json:"numPapers"`
	NumIncluded int           `json:"numIncluded"`
	LastIndex   int           `json:"lastIndex"`
	Clusters    []int         `json:"clusters"` // cluster count per depth, coarsest first
	Hulls       int           `json:"hulls"`
	StoreSize   int64         `json:"storeSize"`
	Created     time.Time     `json:"created"`
	Settings    config.Values `json:"settings"`
}

// TickRequest applies Settings, optionally resets, then advances the
// session by Elapsed seconds.
type TickRequest struct {
	ID       string        `json:"id"`
	Elapsed  float64       `json:"elapsed"`
	Reset    bool          `json:"reset,omitempty"`
	Settings config.Update `json:"settings"`
}

type GetRequest struct {
	ID string `json:"id"`
}

type FrameResponse struct {
	ID       string             `json:"id"`
	Snapshot animation.Snapshot `json:"snapshot"`
	Plan     render.FramePlan   `json:"plan"`
	Settings config.Values      `json:"settings"`
}

type ListRequest struct{}

type ListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

type SummaryRequest struct {
	ID    string `json:"id"`
	Depth int    `json:"depth"`
}

type SummaryResponse struct {
	ID      string          `json:"id"`
	Summary cluster.Summary `json:"summary"`
}

type CloseRequest struct {
	ID string `json:"id"`
}

type CloseResponse struct {
	Closed bool `json:"closed"`
}
