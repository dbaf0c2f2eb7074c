// Package api serves the live pipeline's HTTP surface: status, settings,
// the event stream and Prometheus metrics.
package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/gesture/internal/acquire"
	"github.com/banshee-data/gesture/internal/decision"
	"github.com/banshee-data/gesture/internal/httputil"
	"github.com/banshee-data/gesture/internal/monitoring"
	"github.com/banshee-data/gesture/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type StatusSource interface {
	Status() acquire.Status
}

type EventStore interface {
	RecentEvents(ctx context.Context, limit int) ([]decision.Event, error)
}

type Commander interface {
	SendCommand(command string) error
}

// Settings is the read-only view of the running configuration served on
// /api/config.
type Settings struct {
	Labels            []string `json:"labels"`
	Features          int      `json:"features"`
	WindowSize        int      `json:"window_size"`
	Threshold         float64  `json:"threshold"`
	Policy            string   `json:"policy"`
	MinInterval       string   `json:"min_interval"`
	InferenceInterval string   `json:"inference_interval"`
	Source            string   `json:"source"`
}

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	Version  version.Info   `json:"version"`
	Uptime   float64        `json:"uptime_seconds"`
	Pipeline acquire.Status `json:"pipeline"`
}

type Options struct {
	Status   StatusSource
	Settings Settings
	// Stream upgrades /api/events to a websocket event feed. Optional.
	Stream http.Handler
	// Events backs /api/events/recent. Optional.
	Events EventStore
	// Commander backs POST /command. Optional.
	Commander Commander
	Gatherer  prometheus.Gatherer
}

type Server struct {
	opts    Options
	started time.Time
}

func NewServer(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{opts: opts, started: time.Now()}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		// the websocket upgrade needs the original writer's Hijacker
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			monitoring.Debugf("[upgrade] %s %s%s%s", r.Method, colorCyan, r.RequestURI, colorReset)
			return
		}
		next.ServeHTTP(lrw, r)
		monitoring.Debugf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/events/recent", s.listEvents)
	if s.opts.Stream != nil {
		mux.Handle("/api/events", s.opts.Stream)
	}
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "ok\n")
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := StatusResponse{
		Version: version.Get(),
		Uptime:  time.Since(s.started).Seconds(),
	}
	if s.opts.Status != nil {
		resp.Pipeline = s.opts.Status.Status()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.opts.Settings)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Events == nil {
		httputil.NotFound(w, "event storage is disabled")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50, 1000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	events, err := s.opts.Events.RecentEvents(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve events: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Commander == nil {
		http.Error(w, "No device attached", http.StatusNotFound)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.opts.Commander.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}
