// Package metrics collects and exposes Prometheus metrics for the
// filterd supervisor.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/filterdteam/filterd/internal/version"
)

// Collector holds all filterd-specific Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	ReloadTotal      prometheus.Counter
	ReloadErrorTotal prometheus.Counter
	FilterSpawnTotal *prometheus.CounterVec
	ChildExitTotal   *prometheus.CounterVec
	BuildInfo        *prometheus.GaugeVec
}

// New creates and registers all filterd metrics.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,

		ReloadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filterd_config_reload_total",
			Help: "Total number of successful configuration reloads.",
		}),
		ReloadErrorTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filterd_config_reload_error_total",
			Help: "Total number of failed configuration reloads.",
		}),
		FilterSpawnTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filterd_filter_spawn_total",
			Help: "Total number of filter processes spawned.",
		}, []string{"name"}),
		ChildExitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filterd_child_exit_total",
			Help: "Total number of reaped children by outcome.",
		}, []string{"outcome"}),
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "filterd_build_info",
			Help: "Build metadata, always 1.",
		}, []string{"version", "commit"}),
	}

	reg.MustRegister(c.ReloadTotal, c.ReloadErrorTotal, c.FilterSpawnTotal,
		c.ChildExitTotal, c.BuildInfo)
	c.BuildInfo.WithLabelValues(version.Version, version.Commit).Set(1)

	return c
}

// Registry returns the backing registry, for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns the scrape handler, wrapped with basic auth when a
// username and bcrypt password hash are configured.
func (c *Collector) Handler(username, passwordHash string) http.Handler {
	h := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	if username == "" {
		return h
	}
	return basicAuth(h, username, passwordHash)
}

// Serve runs the metrics listener. Intended to run on its own
// goroutine; errors are logged, not fatal to the daemon.
func (c *Collector) Serve(addr, username, passwordHash string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler(username, passwordHash))
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics listener failed", "error", err)
	}
}

func basicAuth(next http.Handler, username, passwordHash string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != username || !checkPassword(passwordHash, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="filterd"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func checkPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
