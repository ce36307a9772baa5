package rpc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type request struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Server carries the JSON-RPC 2.0 surface over HTTP POST. Batch requests are
// not supported; every call is a single request object.
type Server struct {
	registry *Registry
	log      zerolog.Logger
	maxBody  int64
	srv      *http.Server
}

func NewServer(addr string, maxBody int64, registry *Registry, log zerolog.Logger) *Server {
	s := &Server{registry: registry, log: log, maxBody: maxBody}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.POST("/", s.handle)

	s.srv = &http.Server{Addr: addr, Handler: engine}
	return s
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("rpc: listening")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handle(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody)

	var req request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, response{
			Jsonrpc: "2.0",
			Error:   &Error{Code: codeParse, Message: "parse error: " + err.Error()},
		})
		return
	}
	if req.Jsonrpc != "2.0" || req.Method == "" {
		c.JSON(http.StatusOK, response{
			Jsonrpc: "2.0",
			ID:      req.ID,
			Error:   &Error{Code: codeInvalidRequest, Message: "invalid request"},
		})
		return
	}

	result, err := s.registry.Dispatch(c.Request.Context(), req.Method, req.Params)
	if err != nil {
		rpcErr := Wrap(err)
		s.log.Debug().Str("method", req.Method).Int("code", rpcErr.Code).
			Str("error", rpcErr.Message).Msg("rpc: call failed")
		c.JSON(http.StatusOK, response{Jsonrpc: "2.0", ID: req.ID, Error: rpcErr})
		return
	}
	c.JSON(http.StatusOK, response{Jsonrpc: "2.0", ID: req.ID, Result: result})
}
