package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"vigil/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Server exposes the control vocabulary over a local HTTP listener. The
// companion scheduler talks to this instead of polling JSON files.
type Server struct {
	addr    string
	handler *Handler
	srv     *http.Server
}

func NewServer(addr string, handler *Handler) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	s := &Server{addr: addr, handler: handler}

	api := engine.Group("/api/control")
	api.GET("/status", s.handleStatus)
	api.GET("/symbols", s.handleSymbols)
	api.POST("/requests", s.handleRequest)

	s.srv = &http.Server{Addr: addr, Handler: engine}
	return s
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("control http listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := s.handler.Handle(Request{ID: uuid.NewString(), Action: ActionGetStatus})
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSymbols(c *gin.Context) {
	resp := s.handler.Handle(Request{ID: uuid.NewString(), Action: ActionGetWatchedSymbols})
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRequest(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	resp := s.handler.Handle(req)
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, resp)
}
