// Package relay serves the shared classification endpoint used by clients
// that have no key of their own.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"because/internal/classify"
	"because/internal/domain"
)

const (
	segmentRoute = "/api/segment"
	maxBodyBytes = 64 << 10
)

// Resolver classifies one pair. classify.Gateway satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, content, reason string) (classify.Result, error)
}

// Options configures a Server.
type Options struct {
	AllowedOrigins []string
	// Configured reports whether a server-held provider key is present.
	// Without one every classification request gets a 500.
	Configured bool
}

// Server is the relay HTTP surface.
type Server struct {
	opts     Options
	resolver Resolver
	metrics  *Metrics
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewServer creates a relay server.
func NewServer(opts Options, resolver Resolver, metrics *Metrics, logger logrus.FieldLogger) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		opts:     opts,
		resolver: resolver,
		metrics:  metrics,
		validate: validator.New(),
		log:      logger.WithField("component", "relay"),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.instrument)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post(segmentRoute, s.segment)
	r.Options(segmentRoute, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.WithField("addr", addr).Info("Relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("Relay shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type errorBody struct {
	Error string `json:"error"`
}

// segmentRequest is the relay body. Older clients send the reason as
// "because".
type segmentRequest struct {
	Content string `json:"content"`
	Reason  string `json:"reason"`
	Because string `json:"because"`
}

type segmentInput struct {
	Content string `validate:"required_without=Reason"`
	Reason  string `validate:"required_without=Content"`
}

func (s *Server) segment(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Configured {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "AI segmentation is not configured."})
		return
	}

	var body segmentRequest
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil {
		err = json.Unmarshal(data, &body)
	}
	if err != nil {
		s.log.WithError(err).Warn("Unreadable segment request")
		s.metrics.Fallbacks.Inc()
		writeJSON(w, http.StatusOK, classify.RelayResponse{Topics: domain.FallbackTopics()})
		return
	}

	reason := body.Reason
	if reason == "" {
		reason = body.Because
	}
	in := segmentInput{
		Content: classify.Sanitize(body.Content, classify.MaxContentLen),
		Reason:  classify.Sanitize(reason, classify.MaxReasonLen),
	}
	if err := s.validate.Struct(in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "content or reason required"})
		return
	}

	start := time.Now()
	res, err := s.resolver.Resolve(r.Context(), in.Content, in.Reason)
	s.metrics.Latency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.log.WithError(err).Warn("Segment failed, answering with fallback")
	}
	if err != nil || res.Fallback {
		s.metrics.Fallbacks.Inc()
	}
	writeJSON(w, http.StatusOK, classify.RelayResponse{Topics: res.Topics()})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// instrument counts and logs every request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": chimiddleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
