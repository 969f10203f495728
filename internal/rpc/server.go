package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hyperjump/tabdoc/internal/config"
	"github.com/hyperjump/tabdoc/internal/metrics"
	"github.com/hyperjump/tabdoc/internal/service"
	"github.com/hyperjump/tabdoc/internal/worker"
)

const writeTimeout = 30 * time.Second

// Server accepts WebSocket connections and runs their requests on a shared
// worker pool.
type Server struct {
	svc      *service.Service
	config   *config.ServerConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// handle runs one job; replaced in tests.
	handle func(context.Context, *job) error

	mu      sync.Mutex
	server  *http.Server
	pool    *worker.Pool[*job]
	cancel  context.CancelFunc
	conns   map[*conn]struct{}
	stopped bool
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// send serializes writes; gorilla/websocket allows one concurrent writer.
func (c *conn) send(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

type job struct {
	c        *conn
	req      Request
	received time.Time
}

// NewServer creates a server with the given dependencies. m may be nil.
func NewServer(svc *service.Service, cfg *config.ServerConfig, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:     svc,
		config:  cfg,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
		},
		conns: make(map[*conn]struct{}),
	}
	s.handle = s.process
	return s
}

// Start listens on the configured address and blocks until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(s.config.Workers, s.config.QueueSize,
		func(ctx context.Context, j *job) error { return s.handle(ctx, j) },
		worker.WithRecorder[*job](s.metrics.Pool(Protocol)),
		worker.WithLogger[*job](s.logger),
	)
	if err := pool.Start(ctx); err != nil {
		cancel()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleWebSocket)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		_ = pool.Stop(time.Second)
		return nil
	}
	s.server = srv
	s.pool = pool
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("Starting RPC server",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", Path),
		zap.Int("workers", s.config.Workers))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops accepting connections, closes open ones and waits for queued
// requests to drain until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	srv, pool, cancel := s.server, s.pool, s.cancel
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	for _, c := range conns {
		_ = c.ws.Close()
	}

	timeout := s.config.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	if perr := pool.Stop(timeout); perr != nil && err == nil {
		err = perr
	}
	cancel()
	return err
}

func (s *Server) currentPool() *worker.Pool[*job] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	limit := s.config.MaxMessageBytes
	if limit <= 0 {
		limit = config.DefaultMaxMessageBytes
	}
	ws.SetReadLimit(limit)

	c := &conn{ws: ws}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	s.conns[c] = struct{}{}
	pool := s.pool
	s.mu.Unlock()

	s.logger.Debug("Client connected", zap.String("remote", r.RemoteAddr))
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = ws.Close()
		s.logger.Debug("Client disconnected", zap.String("remote", r.RemoteAddr))
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Read failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			}
			return
		}
		s.dispatch(c, pool, data)
	}
}

func (s *Server) dispatch(c *conn, pool *worker.Pool[*job], data []byte) {
	received := time.Now()
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.reply(c, &Response{Error: "malformed request: " + err.Error()}, "unknown", metrics.OutcomeInvalid, received)
		return
	}
	switch req.Method {
	case MethodUpload, MethodCount, MethodGetByID, MethodExecuteQuery:
	default:
		s.reply(c, &Response{ID: req.ID, Error: "unknown method: " + req.Method}, "unknown", metrics.OutcomeInvalid, received)
		return
	}

	// waiting here stalls this connection's read loop, pushing back on the
	// client; only a queue that stays full for QueueWait is reported busy
	wait := s.config.QueueWait
	if wait <= 0 {
		wait = config.DefaultQueueWait
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	err := pool.SubmitWait(ctx, &job{c: c, req: req, received: received})
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrQueueFull):
		s.reply(c, &Response{ID: req.ID, Error: ErrServerBusy.Error()}, req.Method, metrics.OutcomeBusy, received)
	default:
		s.reply(c, &Response{ID: req.ID, Error: "server shutting down"}, req.Method, metrics.OutcomeError, received)
	}
}

func (s *Server) reply(c *conn, resp *Response, op, outcome string, received time.Time) {
	if err := c.send(resp); err != nil {
		s.logger.Debug("Write failed", zap.String("method", op), zap.Error(err))
	}
	s.metrics.ObserveRequest(Protocol, op, outcome, time.Since(received))
}

// process runs on a pool worker.
func (s *Server) process(ctx context.Context, j *job) error {
	result, err := s.call(ctx, j.req)
	resp := &Response{ID: j.req.ID}
	outcome := metrics.OutcomeOK
	if err != nil {
		resp.Error = err.Error()
		outcome = metrics.OutcomeInvalid
	} else if resp.Result, err = json.Marshal(result); err != nil {
		resp.Error = err.Error()
		outcome = metrics.OutcomeError
	}
	s.reply(j.c, resp, j.req.Method, outcome, j.received)
	return err
}

// call returns an error only for requests whose params cannot be decoded.
func (s *Server) call(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case MethodUpload:
		var p UploadParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		res := s.svc.Upload(ctx, service.UploadRequest{
			XML:      []byte(p.XMLData),
			XSD:      []byte(p.XSDData),
			Protocol: Protocol,
		})
		return UploadResult{OK: res.OK, Message: res.Message, Records: res.Records, UploadID: res.UploadID}, nil
	case MethodCount:
		return CountResult{Count: s.svc.Count()}, nil
	case MethodGetByID:
		var p GetByIDParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return GetByIDResult{Text: s.svc.GetByID(p.ID)}, nil
	case MethodExecuteQuery:
		var p ExecuteQueryParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		res := s.svc.Execute(p.Query)
		return ExecuteQueryResult{Results: res.Values, Kind: res.Kind.String()}, nil
	}
	return nil, fmt.Errorf("unknown method: %s", req.Method)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
