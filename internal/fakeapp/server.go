// Package fakeapp is an in-process stand-in for the stickyapp service. It
// keeps sessions in memory, computes means in plaintext and speaks the
// same double-encoded JSON protocol, so the load generator can be run and
// tested without a cluster.
package fakeapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/stickyapp/tools/loadgen/internal/apispec"
	"github.com/example/stickyapp/tools/loadgen/internal/generator"
	"github.com/example/stickyapp/tools/loadgen/internal/stickyapp"
)

// Config configures the fake service.
type Config struct {
	// Location is reported in x-sessionlocation. Default: 127.0.0.1
	Location string
	Logger   *zap.Logger
	// Spec validates request bodies. Nil loads the embedded description.
	Spec *apispec.Spec
}

type session struct {
	mu        sync.Mutex
	id        string
	encrypted bool
	params    *stickyapp.EncryptionParams
	values    []float64
}

// Server is the fake stickyapp service.
type Server struct {
	location string
	logger   *zap.Logger
	spec     *apispec.Spec

	mu       sync.RWMutex
	sessions map[string]*session
	faults   map[stickyapp.Action]int

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New creates a fake service.
func New(cfg Config) (*Server, error) {
	if cfg.Location == "" {
		cfg.Location = "127.0.0.1"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Spec == nil {
		spec, err := apispec.Load(context.Background())
		if err != nil {
			return nil, err
		}
		cfg.Spec = spec
	}
	return &Server{
		location:   cfg.Location,
		logger:     cfg.Logger.Named("fakeapp"),
		spec:       cfg.Spec,
		sessions:   make(map[string]*session),
		faults:     make(map[stickyapp.Action]int),
		shutdownCh: make(chan struct{}),
	}, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the stickyapp routes on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/", s.Root)
	r.Get("/shutdown", s.Shutdown)
	r.Get("/sessions", s.ListSessions)
	r.Post("/sessions", s.CreateSession)
	r.Post("/sessions/{sid}", s.SessionAction)
}

// SetFault makes every command with action answer with statusCode and a
// plain-text body. A zero status code clears the fault.
func (s *Server) SetFault(action stickyapp.Action, statusCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if statusCode == 0 {
		delete(s.faults, action)
		return
	}
	s.faults[action] = statusCode
}

// Sessions returns the open session ids, sorted.
func (s *Server) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ShutdownRequested is closed once GET /shutdown has been served.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

// Root answers the liveness probe.
func (s *Server) Root(w http.ResponseWriter, r *http.Request) {
	msg := fmt.Sprintf("ok, localip %s, %s", s.location, time.Now().Format(time.RFC1123Z))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, msg)
}

// ListSessions returns the open session ids.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"message":    "Ok",
		"sessionids": s.Sessions(),
	})
}

// CreateSession opens a session. The session id and location headers are
// always set; the location is empty when creation failed.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	encrypted := false
	if raw := r.URL.Query().Get("encrypted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "invalid encrypted query parameter", http.StatusBadRequest)
			return
		}
		encrypted = v
	}

	message, ok := s.readEnvelope(w, r, "/sessions")
	if !ok {
		return
	}

	id := generator.NewSessionID(encrypted)
	sess := &session{id: id, encrypted: encrypted}
	reply, err := s.initSession(sess, message)

	resp := stickyapp.ServerEnvelope{Status: true, SessionID: id}
	location := ""
	if err != nil {
		msg := fmt.Sprintf("[%s] Failure while creating session. %v", id, err)
		s.logger.Warn(msg)
		resp.Status = false
		resp.Message = msg
	} else {
		s.mu.Lock()
		s.sessions[id] = sess
		s.mu.Unlock()
		location = s.location
		resp.Message = encodeReply(reply)
		s.logger.Info("session created", zap.String("session", id), zap.Bool("encrypted", encrypted))
	}

	w.Header().Set(stickyapp.HeaderSessionID, id)
	w.Header().Set(stickyapp.HeaderSessionLocation, location)
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) initSession(sess *session, message string) (stickyapp.Reply, error) {
	if !sess.encrypted {
		return stickyapp.Reply{Status: true, StatusMessage: "Session Initialized"}, nil
	}

	if err := s.spec.ValidateJSON(apispec.SchemaEncryptionParams, []byte(message)); err != nil {
		return stickyapp.Reply{}, fmt.Errorf("[%s] Session initialized failed. Failed to json decode encryption parameters. %v", sess.id, err)
	}
	var params stickyapp.EncryptionParams
	if err := json.Unmarshal([]byte(message), &params); err != nil {
		return stickyapp.Reply{}, fmt.Errorf("[%s] Session initialized failed. Failed to json decode encryption parameters. %v", sess.id, err)
	}
	if params.EncoderMax <= params.EncoderMin {
		return stickyapp.Reply{}, fmt.Errorf("[%s] Session initialized failed. Unable to instantiate encoder. empty interval [%v, %v]",
			sess.id, params.EncoderMin, params.EncoderMax)
	}
	sess.params = &params
	return stickyapp.Reply{
		Status:        true,
		StatusMessage: fmt.Sprintf("[%s] Session initialized, with parameters: %+v", sess.id, params),
	}, nil
}

// SessionAction runs one command against a session.
func (s *Server) SessionAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sid")

	message, ok := s.readEnvelope(w, r, "/sessions/{sid}")
	if !ok {
		return
	}

	s.mu.RLock()
	sess, found := s.sessions[id]
	s.mu.RUnlock()

	resp := stickyapp.ServerEnvelope{Status: true, SessionID: id}
	if !found {
		msg := fmt.Sprintf("[%s] Failure. Session not found", id)
		s.logger.Warn(msg)
		resp.Status = false
		resp.Message = msg
		s.respondJSON(w, http.StatusOK, resp)
		return
	}

	var cmd stickyapp.Command
	if err := s.spec.ValidateJSON(apispec.SchemaCommand, []byte(message)); err != nil {
		resp.Message = encodeReply(stickyapp.Reply{
			StatusMessage: fmt.Sprintf("[%s] Failed to json decode request's message field. %v", id, err),
		})
		s.respondJSON(w, http.StatusOK, resp)
		return
	}
	_ = json.Unmarshal([]byte(message), &cmd)

	if code, faulty := s.fault(cmd.Action); faulty {
		http.Error(w, fmt.Sprintf("injected failure for %s", cmd.Action), code)
		return
	}

	reply, exit := sess.apply(cmd)
	if exit {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		s.logger.Info("session removed", zap.String("session", id))
	}
	resp.Message = encodeReply(reply)
	s.respondJSON(w, http.StatusOK, resp)
}

// apply runs cmd and reports whether the session ended.
func (sess *session) apply(cmd stickyapp.Command) (stickyapp.Reply, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch cmd.Action {
	case stickyapp.ActionEncrypt:
		sess.values = append(sess.values, cmd.Value)
		return stickyapp.Reply{
			Status:        true,
			StatusMessage: fmt.Sprintf("[%s] Encrypt action received. Value %v", sess.id, cmd.Value),
			Value:         &cmd.Value,
		}, false

	case stickyapp.ActionMean:
		return sess.mean(), false

	case stickyapp.ActionShutdown:
		return stickyapp.Reply{
			Status:        true,
			StatusMessage: fmt.Sprintf("[%s] Shutdown action recevied", sess.id),
		}, true

	default:
		return stickyapp.Reply{
			StatusMessage: fmt.Sprintf("[%s] Unknown action. Received message: %+v", sess.id, cmd),
		}, false
	}
}

// mean averages and clears the stored values. An encrypted session answers
// status true with a zero value when nothing is stored; a plain session
// answers status false.
func (sess *session) mean() stickyapp.Reply {
	if len(sess.values) == 0 {
		if sess.encrypted {
			var zero float64
			return stickyapp.Reply{Status: true, Value: &zero}
		}
		return stickyapp.Reply{StatusMessage: fmt.Sprintf("[%s] Mean action received", sess.id)}
	}

	var sum float64
	for _, v := range sess.values {
		sum += v
	}
	mean := sum / float64(len(sess.values))
	sess.values = sess.values[:0]

	reply := stickyapp.Reply{Status: true, Value: &mean}
	if sess.encrypted {
		reply.StatusMessage = fmt.Sprintf("[%s] Mean action, Mean calculated successfully. Original sum: %v, Original mean: %v", sess.id, sum, mean)
	} else {
		reply.StatusMessage = fmt.Sprintf("[%s] Mean action received", sess.id)
	}
	return reply
}

// Shutdown drops every session and signals ShutdownRequested.
func (s *Server) Shutdown(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("server shutdown request received")

	s.mu.Lock()
	clear(s.sessions)
	s.mu.Unlock()

	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

// ListenAndServe serves on addr until ctx is done or a shutdown is
// requested. The bound address is sent on ready when it is not nil.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case <-ctx.Done():
	case <-s.shutdownCh:
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) fault(action stickyapp.Action) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.faults[action]
	return code, ok
}

// readEnvelope validates the request body and returns the inner message.
func (s *Server) readEnvelope(w http.ResponseWriter, r *http.Request, route string) (string, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return "", false
	}
	if err := s.spec.ValidateRequestBody(r.Method, route, body); err != nil {
		s.logger.Warn("rejecting request", zap.String("route", route), zap.Error(err))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return "", false
	}
	var env stickyapp.Envelope
	_ = json.Unmarshal(body, &env)
	return env.Message, true
}

func encodeReply(reply stickyapp.Reply) string {
	if reply.Value == nil {
		zero := 0.0
		reply.Value = &zero
	}
	b, _ := json.Marshal(reply)
	return string(b)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("host", r.Host),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	})
}
