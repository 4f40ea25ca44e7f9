package stickyapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/example/stickyapp/tools/loadgen/internal/client"
	"github.com/example/stickyapp/tools/loadgen/internal/metrics"
)

// Paths and response headers of the session API.
const (
	SessionsPath = "/sessions"

	HeaderSessionID       = "x-sessionid"
	HeaderSessionLocation = "x-sessionlocation"

	// CommandCreateSession labels the setup request in metrics.
	CommandCreateSession = "create_session"
)

// ErrSessionSetup is returned by Setup when the service did not open a
// session. The session stays usable; commands go to an empty session path.
var ErrSessionSetup = errors.New("session setup failed")

// Transport posts a pre-encoded body. *client.Client satisfies it.
type Transport interface {
	Post(ctx context.Context, path string, queryParams map[string]string, body []byte, headers *client.Headers) (*client.Response, error)
}

// SessionConfig holds everything one session needs. Headers is owned by
// the session and gains the routing headers after a successful setup.
type SessionConfig struct {
	Transport Transport
	Headers   *client.Headers
	Logger    *zap.Logger
	Recorder  metrics.Recorder
	Tracker   metrics.SessionTracker
	PodPort   int
	Encrypted bool
	Params    EncryptionParams
}

// Session is one remote encrypted-computation context. It is driven by a
// single user and is not safe for concurrent commands, though the counters
// may be read from any goroutine.
type Session struct {
	transport Transport
	headers   *client.Headers
	base      *zap.Logger
	logger    *zap.Logger
	recorder  metrics.Recorder
	tracker   metrics.SessionTracker
	podPort   int
	encrypted bool
	params    EncryptionParams

	id       string
	location string
	open     bool

	messagesSent      atomic.Int64
	responsesReceived atomic.Int64
}

// NewSession creates a session that is not yet set up.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		transport: cfg.Transport,
		headers:   cfg.Headers,
		base:      cfg.Logger,
		recorder:  cfg.Recorder,
		tracker:   cfg.Tracker,
		podPort:   cfg.PodPort,
		encrypted: cfg.Encrypted,
		params:    cfg.Params,
	}
	if s.headers == nil {
		s.headers = client.NewHeaders("", nil)
	}
	if s.base == nil {
		s.base = zap.NewNop()
	}
	s.bindLogger()
	if s.recorder == nil {
		s.recorder = metrics.Discard
	}
	if s.tracker == nil {
		s.tracker = metrics.NopTracker{}
	}
	return s
}

// ID returns the session id assigned by the service, or "".
func (s *Session) ID() string { return s.id }

// Location returns the backing instance of the session, or "".
func (s *Session) Location() string { return s.location }

// Headers returns the session's header set.
func (s *Session) Headers() *client.Headers { return s.headers }

// MessagesSent returns how many commands were sent.
func (s *Session) MessagesSent() int64 { return s.messagesSent.Load() }

// ResponsesReceived returns how many send attempts completed.
func (s *Session) ResponsesReceived() int64 { return s.responsesReceived.Load() }

// CommandPath returns the endpoint for commands to this session.
func (s *Session) CommandPath() string {
	return SessionsPath + "/" + s.id
}

// bindLogger attaches the current session identifiers to every line.
func (s *Session) bindLogger() {
	s.logger = s.base.With(
		zap.String("sessionid", s.id),
		zap.String("sessionlocation", s.location),
	)
}

// logOutcome logs a command result: success at debug with the service's
// status message, failure at warn with the whole result.
func (s *Session) logOutcome(action Action, result Result, fields ...zap.Field) {
	if result.OK() {
		fields = append(fields, zap.String("status_message", result.StatusMessage()))
		s.logger.Debug(string(action)+": Success", fields...)
		return
	}
	s.logger.Warn(string(action)+": Failed", zap.Stringer("response", result))
}

// SendCommand wraps payload, posts it to path (the session's command path
// when empty) and unwraps the reply. Only a 200 response is decoded; any
// other outcome yields a Failed result carrying the raw body, or the
// transport error text when no response arrived. The raw response is
// always returned.
func (s *Session) SendCommand(ctx context.Context, payload any, path string) (Result, *client.Response) {
	return s.send(ctx, payload, path, nil)
}

func (s *Session) send(ctx context.Context, payload any, path string, query map[string]string) (Result, *client.Response) {
	if path == "" {
		path = s.CommandPath()
	}
	name := commandName(payload)

	body, err := Wrap(payload)
	if err != nil {
		s.logger.Error("encoding command", zap.String("command", name), zap.Error(err))
		return Failed(err.Error()), &client.Response{Error: err}
	}

	s.logger.Debug("Sending", zap.String("path", path), zap.ByteString("body", body))
	s.messagesSent.Add(1)
	resp, err := s.transport.Post(ctx, path, query, body, s.headers)
	s.responsesReceived.Add(1)
	if resp == nil {
		resp = &client.Response{Error: err}
	}

	var result Result
	switch {
	case err != nil && resp.StatusCode == 0:
		result = Failed(err.Error())
	case resp.StatusCode != http.StatusOK:
		result = Failed(resp.Text())
	default:
		obj, uerr := Unwrap(resp.Body)
		if uerr != nil {
			result = Failed(resp.Text() + ", " + uerr.Error())
		} else {
			result = Decoded(obj)
		}
	}
	s.logger.Debug("Response", zap.String("path", path), zap.Stringer("response", result))

	// Requests cut short by the end of the run are not counted.
	if err == nil || ctx.Err() == nil {
		s.record(name, path, resp, result)
	}
	return result, resp
}

func (s *Session) record(name, path string, resp *client.Response, result Result) {
	r := metrics.Result{
		Command:      name,
		Path:         path,
		StatusCode:   resp.StatusCode,
		Latency:      resp.Duration,
		Success:      result.OK(),
		Rejected:     result.IsDecoded() && !result.OK(),
		ResponseSize: int64(len(resp.Body)),
		Timestamp:    time.Now(),
	}
	if resp.Error != nil {
		r.Error = resp.Error.Error()
	} else if !r.Success {
		r.Error = result.StatusMessage()
		if r.Error == "" && !result.IsDecoded() {
			r.Error = "HTTP " + strconv.Itoa(resp.StatusCode)
		}
	}
	s.recorder.Record(r)
}

func commandName(payload any) string {
	switch p := payload.(type) {
	case Command:
		return string(p.Action)
	case *Command:
		return string(p.Action)
	case EncryptionParams, *EncryptionParams:
		return CommandCreateSession
	default:
		return "unknown"
	}
}

// Setup opens the remote session. On success it records the session id
// and location from the response headers and pins later requests to the
// backing instance. On failure it logs a warning and returns
// ErrSessionSetup; the session keeps working with empty identifiers.
func (s *Session) Setup(ctx context.Context) error {
	query := map[string]string{"encrypted": strconv.FormatBool(s.encrypted)}
	result, resp := s.send(ctx, s.params, SessionsPath, query)

	if !result.OK() {
		s.logger.Warn("Initialization Failed", zap.Stringer("response", result))
		return fmt.Errorf("%w: %s", ErrSessionSetup, result)
	}

	s.id = resp.Headers.Get(HeaderSessionID)
	s.location = resp.Headers.Get(HeaderSessionLocation)
	s.headers.Set(client.HeaderUseDirect, "true")
	s.headers.Set(client.HeaderOriginalDstHost, s.location+":"+strconv.Itoa(s.podPort))
	s.open = true
	s.tracker.SessionOpened()
	s.bindLogger()

	s.logger.Debug("created",
		zap.String("status_message", result.StatusMessage()),
		zap.Stringer("headers", s.headers),
	)
	return nil
}

// Teardown sends the shutdown command and logs the final counters
// whatever the outcome.
func (s *Session) Teardown(ctx context.Context) error {
	s.logger.Info("User is ending")

	result, _ := s.SendCommand(ctx, Command{Action: ActionShutdown, Value: 0.0}, "")
	s.logOutcome(ActionShutdown, result)

	var err error
	if !result.OK() {
		err = fmt.Errorf("shutdown failed: %s", result)
	}
	if s.open {
		s.open = false
		s.tracker.SessionClosed()
	}

	s.logger.Info("User sent messages", zap.Int64("count", s.MessagesSent()))
	s.logger.Info("User received messages", zap.Int64("count", s.ResponsesReceived()))
	return err
}
