package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mystra/core/host"
	"mystra/crypto"
	"mystra/native/market"
	"mystra/observability/logging"
	"mystra/observability/metrics"
)

const (
	jsonRPCVersion         = "2.0"
	defaultMaxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
	// codeMarketBase is offset by the marketplace error code, so code 4
	// surfaces as -32104.
	codeMarketBase = -32100
)

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	MaxRequestBytes int64
	AllowedOrigins  []string
	// TrustedProxies lists peers (addresses or CIDR prefixes) whose
	// X-Real-IP and X-Forwarded-For headers identify the client.
	TrustedProxies  []string
}

// Server exposes the marketplace host over JSON-RPC and a websocket event
// stream.
type Server struct {
	host    *host.Host
	cfg     ServerConfig
	auth    *Authenticator
	limiter *RateLimiter
	trusted []netip.Prefix
	hub     *Hub
	events  EventQuerier
	metrics *metrics.MarketMetrics
	logger  *slog.Logger
	methods map[string]method
}

// NewServer binds a server to h. It fails on a malformed trusted proxy entry.
func NewServer(h *host.Host, cfg ServerConfig) (*Server, error) {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	trusted, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Server{
		host:    h,
		cfg:     cfg,
		trusted: trusted,
		hub:     NewHub(),
		logger:  slog.Default(),
	}
	s.methods = s.registerMethods()
	return s, nil
}

// SetAuthenticator configures caller authentication.
func (s *Server) SetAuthenticator(auth *Authenticator) { s.auth = auth }

// SetRateLimiter configures per-client throttling. Nil disables it.
func (s *Server) SetRateLimiter(limiter *RateLimiter) { s.limiter = limiter }

// SetEventQuerier configures the backing store of market_events.
func (s *Server) SetEventQuerier(q EventQuerier) { s.events = q }

// SetMetrics configures the metrics sink.
func (s *Server) SetMetrics(m *metrics.MarketMetrics) { s.metrics = m }

// SetLogger configures the request logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// Hub returns the event hub feeding websocket subscribers.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.rateLimit).Post("/rpc", s.handle)
	r.With(s.rateLimit).Get("/ws", s.handleEventsWS)
	return otelhttp.NewHandler(r, "mystra-rpc")
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	status  int
}

func (e *RPCError) Error() string { return e.Message }

// MarketErrorData accompanies marketplace failures.
type MarketErrorData struct {
	Name string `json:"name"`
	Code int    `json:"code"`
}

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf(format, args...), status: http.StatusBadRequest}
}

// toRPCError maps a handler error onto its JSON-RPC representation.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if code := market.Code(err); code != market.CodeInternal {
		return &RPCError{
			Code:    codeMarketBase - int(code),
			Message: err.Error(),
			Data:    MarketErrorData{Name: market.CodeName(err), Code: int(code)},
			status:  http.StatusOK,
		}
	}
	if errors.Is(err, host.ErrDevnetDisabled) {
		return &RPCError{Code: codeMethodNotFound, Message: err.Error(), status: http.StatusNotFound}
	}
	return &RPCError{Code: codeServerError, Message: err.Error(), status: http.StatusInternalServerError}
}

func writeError(w http.ResponseWriter, status int, id interface{}, rpcErr *RPCError) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxRequestBytes)
		}
		writeError(w, status, nil, &RPCError{Code: codeInvalidRequest, Message: message})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeInvalidRequest, Message: "request body required"})
		return
	}
	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeParseError, Message: "invalid JSON payload", Data: err.Error()})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version", Data: req.JSONRPC})
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		s.metrics.ObserveRPC(req.Method, "not_found")
		writeError(w, http.StatusNotFound, req.ID, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)})
		return
	}

	var caller crypto.Identity
	if m.auth {
		caller, err = s.auth.Caller(r)
		if err != nil {
			s.metrics.ObserveRPC(req.Method, "unauthorized")
			s.logger.Warn("rpc caller rejected",
				slog.String("method", req.Method),
				logging.MaskField("authorization", r.Header.Get("Authorization")),
				slog.String("error", err.Error()))
			writeError(w, http.StatusUnauthorized, req.ID, &RPCError{Code: codeUnauthorized, Message: err.Error()})
			return
		}
	}

	result, err := m.fn(r.Context(), caller, req.Params)
	if err != nil {
		rpcErr := toRPCError(err)
		outcome := "error"
		if data, ok := rpcErr.Data.(MarketErrorData); ok {
			outcome = data.Name
		}
		s.metrics.ObserveRPC(req.Method, outcome)
		writeError(w, rpcErr.status, req.ID, rpcErr)
		return
	}
	s.metrics.ObserveRPC(req.Method, "ok")
	writeResult(w, req.ID, result)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(s.clientSource(r)) {
			s.metrics.ObserveThrottle(r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			writeError(w, http.StatusTooManyRequests, nil, &RPCError{Code: codeRateLimited, Message: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("rpc request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}
