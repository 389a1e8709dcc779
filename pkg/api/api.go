package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/invite-mailer/pkg/invite"
	"github.com/telekom/invite-mailer/pkg/metrics"
	"github.com/telekom/invite-mailer/pkg/system"
	"github.com/telekom/invite-mailer/pkg/version"
)

const shutdownTimeout = 10 * time.Second

// Invoker runs one mailer invocation. *invite.Handler satisfies it.
type Invoker interface {
	Handle(ctx context.Context, payload json.RawMessage) (invite.Response, error)
}

type Server struct {
	gin     *gin.Engine
	invoker Invoker
	log     *zap.SugaredLogger
}

func NewServer(log *zap.Logger, invoker Invoker, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)

	s := &Server{
		gin:     engine,
		invoker: invoker,
		log:     log.Sugar().Named("api"),
	}
	engine.Use(s.requestLogger)

	engine.POST("invoke", s.invoke)
	engine.GET("healthz", s.healthz)
	engine.GET("version", s.version)
	engine.GET("metrics", gin.WrapH(metrics.MetricsHandler()))

	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Listen(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.gin,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Starting local invoke server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info("Shutting down local invoke server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(c *gin.Context) {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	c.Set(system.ReqLoggerKey, s.log.With("requestID", requestID))
	c.Next()
}

func (s *Server) invoke(c *gin.Context) {
	log := system.GetReqLogger(c, s.log)

	payload, err := c.GetRawData()
	if err != nil {
		log.Warnw("Failed to read invocation payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	resp, err := s.invoker.Handle(c.Request.Context(), payload)
	if err != nil {
		log.Errorw("Invocation returned an error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Infow("Invocation completed", "statusCode", resp.StatusCode)
	c.JSON(resp.StatusCode, resp)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) version(c *gin.Context) {
	c.JSON(http.StatusOK, version.GetBuildInfo())
}
