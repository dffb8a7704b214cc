package observability

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"ebslms/internal/app/apiresp"
	"ebslms/internal/auth"
	"ebslms/internal/platform/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

type gauge struct {
	name string
	read func() float64
}

// Pinger is anything /healthz should check besides the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Collector struct {
	db  *sql.DB
	log *logger.Logger

	mu           sync.RWMutex
	requestStats map[key]stat
	gauges       []gauge
	startedAt    time.Time
}

func NewCollector(db *sql.DB, log *logger.Logger) *Collector {
	return &Collector{
		db:           db,
		log:          log.With("component", "http"),
		requestStats: make(map[key]stat),
		startedAt:    time.Now(),
	}
}

// AddGauge exposes fn as ebslms_<name> on /metrics.
func (c *Collector) AddGauge(name string, fn func() float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges = append(c.gauges, gauge{name: name, read: fn})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx, authenticated := auth.WithUserSlot(r.Context())
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := routePath(r)

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: rec.status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		c.mu.Unlock()

		fields := []any{
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", path,
			"status", rec.status,
			"latency_ms", latencyMS,
			"remote_ip", strings.TrimSpace(r.RemoteAddr),
		}
		if u, ok := authenticated(); ok {
			fields = append(fields, "user_id", u.ID.String())
		}
		if id := attemptID(r); id != "" {
			fields = append(fields, "attempt_id", id)
		}
		if rec.status >= http.StatusInternalServerError {
			c.log.Warn("request", fields...)
			return
		}
		c.log.Info("request", fields...)
	})
}

// routePath prefers the matched chi pattern so ids do not explode label cardinality.
func routePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return normalizedPath(r.URL.Path)
}

func attemptID(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.URLParam("attemptID")
	}
	return ""
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	gauges := append([]gauge(nil), c.gauges...)
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	sb.WriteString("# ebslms observability metrics\n")
	sb.WriteString("# TYPE ebslms_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("ebslms_uptime_seconds %.0f\n", time.Since(startedAt).Seconds()))

	sb.WriteString("# TYPE ebslms_http_requests_total counter\n")
	sb.WriteString("# TYPE ebslms_http_request_latency_ms_sum counter\n")
	sb.WriteString("# TYPE ebslms_http_request_latency_ms_avg gauge\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("method=\"%s\",path=\"%s\",status=\"%d\"", k.Method, k.Path, k.Status)
		sb.WriteString(fmt.Sprintf("ebslms_http_requests_total{%s} %d\n", labels, s.Count))
		sb.WriteString(fmt.Sprintf("ebslms_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS))
		avg := 0.0
		if s.Count > 0 {
			avg = s.LatencyMS / float64(s.Count)
		}
		sb.WriteString(fmt.Sprintf("ebslms_http_request_latency_ms_avg{%s} %.3f\n", labels, avg))
	}

	if c.db != nil {
		dbs := c.db.Stats()
		sb.WriteString("# TYPE ebslms_db_open_connections gauge\n")
		sb.WriteString(fmt.Sprintf("ebslms_db_open_connections %d\n", dbs.OpenConnections))
		sb.WriteString("# TYPE ebslms_db_in_use_connections gauge\n")
		sb.WriteString(fmt.Sprintf("ebslms_db_in_use_connections %d\n", dbs.InUse))
		sb.WriteString("# TYPE ebslms_db_idle_connections gauge\n")
		sb.WriteString(fmt.Sprintf("ebslms_db_idle_connections %d\n", dbs.Idle))
		sb.WriteString("# TYPE ebslms_db_wait_count counter\n")
		sb.WriteString(fmt.Sprintf("ebslms_db_wait_count %d\n", dbs.WaitCount))
		sb.WriteString("# TYPE ebslms_db_wait_duration_ms counter\n")
		sb.WriteString(fmt.Sprintf("ebslms_db_wait_duration_ms %.3f\n", float64(dbs.WaitDuration.Microseconds())/1000.0))
	}

	for _, g := range gauges {
		sb.WriteString(fmt.Sprintf("# TYPE ebslms_%s gauge\n", g.name))
		sb.WriteString(fmt.Sprintf("ebslms_%s %g\n", g.name, g.read()))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// HealthHandler pings the database and every extra dependency. A nil Pinger is skipped.
func (c *Collector) HealthHandler(extra map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		if c.db != nil {
			checks["database"] = "ok"
			if err := c.db.PingContext(ctx); err != nil {
				checks["database"] = "unavailable"
				healthy = false
				c.log.Warn("health check failed", "dependency", "database", "error", err)
			}
		}
		for name, p := range extra {
			if p == nil {
				continue
			}
			checks[name] = "ok"
			if err := p.Ping(ctx); err != nil {
				checks[name] = "unavailable"
				healthy = false
				c.log.Warn("health check failed", "dependency", name, "error", err)
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		apiresp.WriteOK(w, r, status, map[string]any{"healthy": healthy, "checks": checks})
	}
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
