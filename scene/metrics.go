package scene

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"web/papercloud/animation"
	"web/papercloud/render"
)

// Metrics are the frame loop instruments.
type Metrics struct {
	frames        prometheus.Counter
	renderErrors  prometheus.Counter
	frameDuration prometheus.Histogram
	progress      prometheus.Gauge
	passed        prometheus.Gauge
	draws         *prometheus.GaugeVec
	papers        *prometheus.GaugeVec
}

// NewMetrics registers the instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		frames: f.NewCounter(prometheus.CounterOpts{
			Name: "papercloud_frames_total",
			Help: "Total number of frames planned and drawn",
		}),
		renderErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "papercloud_render_errors_total",
			Help: "Number of frames the renderer failed to draw",
		}),
		frameDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "papercloud_frame_duration_seconds",
			Help:    "Time spent in tick, plan and draw for one frame",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		progress: f.NewGauge(prometheus.GaugeOpts{
			Name: "papercloud_progress_papers",
			Help: "Effective exploration progress in papers",
		}),
		passed: f.NewGauge(prometheus.GaugeOpts{
			Name: "papercloud_passed_clusters",
			Help: "Number of clusters passed at the active depth",
		}),
		draws: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "papercloud_visible_hulls",
			Help: "Hulls drawn in the last frame by category",
		}, []string{"category"}),
		papers: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "papercloud_papers",
			Help: "Papers loaded into the store",
		}, []string{"kind"}),
	}
}

func (m *Metrics) observeLoad(total, included int) {
	if m == nil {
		return
	}
	m.papers.WithLabelValues("total").Set(float64(total))
	m.papers.WithLabelValues("included").Set(float64(included))
}

func (m *Metrics) observeFrame(snap *animation.Snapshot, plan *render.FramePlan, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.frames.Inc()
	if err != nil {
		m.renderErrors.Inc()
	}
	m.frameDuration.Observe(took.Seconds())
	m.progress.Set(snap.Effective)
	m.passed.Set(float64(len(snap.Passed)))

	var counts [3]int
	for _, d := range plan.Draws {
		counts[d.Style.Category]++
	}
	for _, c := range []render.Category{render.Unseen, render.Passed, render.Current} {
		m.draws.WithLabelValues(c.String()).Set(float64(counts[c]))
	}
}
