// Package server exposes loaded problems over HTTP. A client loads a problem
// once, receives a session ID and then submits batches of candidates for
// evaluation against it. The same operations are available as JSON-RPC 2.0
// methods on /rpc.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/copyleftdev/gaeval/internal/config"
	apperrors "github.com/copyleftdev/gaeval/internal/errors"
	"github.com/copyleftdev/gaeval/internal/experiment"
	"github.com/copyleftdev/gaeval/internal/factory"
	"github.com/copyleftdev/gaeval/internal/logging"
	"github.com/copyleftdev/gaeval/internal/problem"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrBodyTooLarge    = errors.New("request body too large")
)

// defaultMaxBody bounds request bodies when the configuration leaves it unset.
const defaultMaxBody = 4 << 20

// Logger defines the logging interface used by the server.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Session is a problem loaded for repeated evaluation.
type Session struct {
	ID        string
	Problem   *problem.Problem
	Config    experiment.Config
	Instance  string
	CreatedAt time.Time
}

type sessionView struct {
	ID        string            `json:"id"`
	Problem   string            `json:"problem"`
	Instance  string            `json:"instance"`
	Config    experiment.Config `json:"config"`
	CreatedAt time.Time         `json:"created_at"`
}

func (s *Session) view() sessionView {
	return sessionView{
		ID:        s.ID,
		Problem:   s.Problem.Name(),
		Instance:  s.Instance,
		Config:    s.Config,
		CreatedAt: s.CreatedAt,
	}
}

// LoadRequest names a problem, an instance file and an experiment
// configuration. Files are base names resolved under the data directory.
type LoadRequest struct {
	Problem  string `json:"problem"`
	Instance string `json:"instance"`
	Config   string `json:"config"`
}

// EvaluateRequest carries a batch of candidates for one session.
type EvaluateRequest struct {
	ID         string               `json:"id,omitempty"`
	Candidates []problem.Chromosome `json:"candidates"`
}

type evaluationView struct {
	problem.Evaluation
	Feasible bool `json:"feasible"`
}

type evaluateResponse struct {
	ID          string           `json:"id"`
	Problem     string           `json:"problem"`
	Evaluations []evaluationView `json:"evaluations"`
}

// Server holds the loaded sessions.
type Server struct {
	cfg     *config.Config
	logger  Logger
	limiter *rate.Limiter
	maxBody int64

	sessions   map[string]*Session
	sessionsMu sync.RWMutex
}

// NewServer creates a new server instance with the given config and logger.
func NewServer(cfg *config.Config, logger Logger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
		maxBody:  cfg.HTTP.MaxBodyBytes,
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBody
	}
	if cfg.HTTP.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.HTTP.RateLimit), cfg.HTTP.RateBurst)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.rateLimit)
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/problems", s.handleList)
			r.Post("/problems", s.handleLoad)
			r.Get("/problems/{id}", s.handleSession)
			r.Delete("/problems/{id}", s.handleRelease)
			r.Post("/problems/{id}/evaluate", s.handleEvaluate)
		})

		r.Post("/rpc", s.handleJSONRPC)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			apperrors.WriteJSON(w, http.StatusTooManyRequests, ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolve maps a client supplied file name to a path under dir. Only plain
// base names are accepted.
func (s *Server) resolve(name string, dir ...string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: file name %q must be a plain base name", ErrInvalidRequest, name)
	}
	parts := append([]string{s.cfg.Evaluation.DataDir}, dir...)
	return filepath.Join(append(parts, name)...), nil
}

func (s *Server) load(req LoadRequest) (*Session, error) {
	if strings.TrimSpace(req.Problem) == "" {
		return nil, fmt.Errorf("%w: problem is required", ErrInvalidRequest)
	}
	instance, err := s.resolve(req.Instance, "instances", strings.ToLower(strings.TrimSpace(req.Problem)))
	if err != nil {
		return nil, err
	}
	cfgPath, err := s.resolve(req.Config, "config")
	if err != nil {
		return nil, err
	}

	p, cfg, err := factory.Build(req.Problem, instance, cfgPath, factory.WithWorkers(s.cfg.Evaluation.Workers))
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        uuid.NewString(),
		Problem:   p,
		Config:    cfg,
		Instance:  req.Instance,
		CreatedAt: time.Now().UTC(),
	}

	s.sessionsMu.Lock()
	s.sessions[sess.ID] = sess
	s.sessionsMu.Unlock()
	sessionsGauge.Inc()

	s.logger.Info("Problem loaded", map[string]interface{}{
		"session_id": sess.ID,
		"problem":    p.Name(),
		"instance":   req.Instance,
		"dim":        cfg.Pop.Dim,
	})
	return sess, nil
}

func (s *Server) session(id string) (*Session, error) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

func (s *Server) evaluate(ctx context.Context, id string, candidates []problem.Chromosome) (*evaluateResponse, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrInvalidRequest)
	}
	if len(candidates) > s.cfg.Evaluation.MaxBatch {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit %d", ErrInvalidRequest, len(candidates), s.cfg.Evaluation.MaxBatch)
	}
	dim := sess.Config.Pop.Dim
	for i, c := range candidates {
		if len(c) != dim {
			return nil, fmt.Errorf("%w: candidate %d has %d genes, want %d", ErrInvalidRequest, i, len(c), dim)
		}
	}

	name := sess.Problem.Name()
	start := time.Now()
	evals, err := sess.Problem.EvaluateAll(ctx, candidates, s.cfg.Evaluation.Workers)
	if err != nil {
		return nil, err
	}
	batchSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	evaluationsTotal.WithLabelValues(name).Add(float64(len(evals)))

	resp := &evaluateResponse{ID: id, Problem: name, Evaluations: make([]evaluationView, len(evals))}
	for i, ev := range evals {
		resp.Evaluations[i] = evaluationView{Evaluation: ev, Feasible: ev.Feasible()}
	}
	return resp, nil
}

func (s *Server) release(id string) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	sessionsGauge.Dec()

	s.logger.Info("Session released", map[string]interface{}{"session_id": id})
	return nil
}

// Close drops every session.
func (s *Server) Close() error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	sessionsGauge.Sub(float64(len(s.sessions)))
	s.sessions = make(map[string]*Session)
	return nil
}

// status maps a failure to the HTTP status reported to the client.
func status(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, experiment.ErrNotFound),
		errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, factory.ErrUnknownProblem):
		return http.StatusBadRequest
	case errors.Is(err, experiment.ErrMalformed),
		errors.Is(err, experiment.ErrMissingSection),
		errors.Is(err, experiment.ErrSchemaViolation),
		errors.Is(err, factory.ErrInstanceParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := status(err)
	fields := map[string]interface{}{"error": err.Error(), "status": code}
	if c := apperrors.Component(err); c != "" {
		fields["component"] = c
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request error", fields)
	} else {
		s.logger.Debug("Request error", fields)
	}
	apperrors.WriteJSON(w, code, err)
}

// respond encodes body before writing the status so an encoding failure
// still reaches the client as a 500.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, code int, body interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		s.fail(w, r, fmt.Errorf("encode response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// handleList handles GET /api/v1/problems.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.sessionsMu.RLock()
	sessions := make([]sessionView, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess.view())
	}
	s.sessionsMu.RUnlock()

	s.respond(w, r, http.StatusOK, map[string]interface{}{
		"problems": factory.Names(),
		"sessions": sessions,
	})
}

// handleLoad handles POST /api/v1/problems.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.load(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, sess.view())
}

// handleSession handles GET /api/v1/problems/{id}.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, sess.view())
}

// handleEvaluate handles POST /api/v1/problems/{id}/evaluate.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.evaluate(r.Context(), chi.URLParam(r, "id"), req.Candidates)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, resp)
}

// handleRelease handles DELETE /api/v1/problems/{id}.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if err := s.release(chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
