// Package api exposes the LeadPulse management surface over HTTP.
//
// The endpoints cover follow-up rule administration, conversation state
// inspection, the scheduled message queue, and a synchronous evaluation
// harness that runs the full decision pipeline on demand. Everything speaks
// JSON with the models.APIResponse envelope.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/scheduler"
	"github.com/leadpulse/leadpulse/internal/store"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// RetryRescheduleDelay is how far in the future a manually retried message is
// queued.
const RetryRescheduleDelay = 5 * time.Minute

// RuleGenerator turns a natural-language description into a structured
// follow-up rule. Implemented by the genai client; nil disables the endpoint.
type RuleGenerator interface {
	GenerateRule(ctx context.Context, consultantID, description string) (*models.FollowupRule, error)
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr string
}

// Option customizes server construction.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server handles the management API.
type Server struct {
	st       store.Store
	runtime  *scheduler.Runtime
	ruleGen  RuleGenerator
	addr     string
	httpSrv  *http.Server
	now      func() time.Time
	webhooks map[string]http.HandlerFunc
}

// NewServer creates the API server. The rule generator may be nil; the
// generation endpoint then reports the feature as unavailable.
func NewServer(st store.Store, runtime *scheduler.Runtime, ruleGen RuleGenerator, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		st:       st,
		runtime:  runtime,
		ruleGen:  ruleGen,
		addr:     cfg.Addr,
		now:      time.Now,
		webhooks: make(map[string]http.HandlerFunc),
	}
}

// RegisterWebhook mounts an inbound channel webhook (e.g. the Twilio message
// callback) on the API listener. Must be called before Run.
func (s *Server) RegisterWebhook(path string, handler http.HandlerFunc) {
	s.webhooks[path] = handler
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rules", s.rulesHandler)
	mux.HandleFunc("/rules/seed", s.seedRulesHandler)
	mux.HandleFunc("/rules/generate", s.generateRuleHandler)
	mux.HandleFunc("/rules/system", s.systemRulesHandler)
	mux.HandleFunc("/rules/{id}", s.ruleByIDHandler)
	mux.HandleFunc("/conversations/{id}/state", s.conversationStateHandler)
	mux.HandleFunc("/conversations/{id}/evaluate", s.evaluateHandler)
	mux.HandleFunc("/messages", s.messagesHandler)
	mux.HandleFunc("/messages/{id}/cancel", s.cancelMessageHandler)
	mux.HandleFunc("/messages/{id}/retry", s.retryMessageHandler)
	mux.HandleFunc("/messages/{id}/send-now", s.sendNowMessageHandler)
	mux.HandleFunc("/scheduler/status", s.schedulerStatusHandler)
	mux.HandleFunc("/analytics/summary", s.analyticsSummaryHandler)
	for path, handler := range s.webhooks {
		mux.HandleFunc(path, handler)
	}
	return mux
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("Server.Run: shutting down API")
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// requireMethod enforces the HTTP method and reports 405 otherwise.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		slog.Warn("Server: method not allowed", "method", r.Method, "path", r.URL.Path)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}
