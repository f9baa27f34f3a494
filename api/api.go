// Package api exposes ONVIF device calls over a JSON HTTP gateway. Every
// request bootstraps fresh clients against the camera it names.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/SridarDhandapani/onvif"
	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// DefaultRequestTimeout bounds one gateway request, bootstrap included.
const DefaultRequestTimeout = 30 * time.Second

// Credentials is the request body of every camera route.
type Credentials struct {
	XAddr    string `json:"xaddr" binding:"required"`
	Username string `json:"username"`
	Password string `json:"password"`

	ProfileToken     string `json:"profileToken,omitempty"`
	VideoSourceToken string `json:"videoSourceToken,omitempty"`
}

// Response is the envelope of error replies.
type Response struct {
	Error string `json:"error"`
}

// Server holds what the handlers share.
type Server struct {
	bootstrapper *onvif.Bootstrapper
	logger       zerolog.Logger
	timeout      time.Duration
}

// NewServer returns a gateway that creates clients with b.
func NewServer(b *onvif.Bootstrapper, logger zerolog.Logger) *Server {
	return &Server{bootstrapper: b, logger: logger, timeout: DefaultRequestTimeout}
}

// SetRequestTimeout changes the per request deadline. Zero disables it.
func (s *Server) SetRequestTimeout(d time.Duration) {
	s.timeout = d
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/device/information", s.deviceInformation)
	r.POST("/device/time", s.deviceTime)
	r.POST("/capabilities/:kind", s.capability)
	r.POST("/media/profiles", s.mediaProfiles)
	r.POST("/ptz/status", s.ptzStatus)
	r.POST("/imaging/settings", s.imagingSettings)
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// bind reads the credentials and derives the request context.
func (s *Server) bind(c *gin.Context) (Credentials, context.Context, context.CancelFunc, bool) {
	var creds Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "invalid request: " + err.Error()})
		return creds, nil, nil, false
	}

	ctx := c.Request.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		return creds, ctx, cancel, true
	}
	return creds, ctx, func() {}, true
}

func (s *Server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	s.logger.Warn().Err(err).Int("status", status).Msg("camera call failed")
	c.JSON(status, Response{Error: err.Error()})
}

// StatusFor maps a client error to the gateway's HTTP status.
func StatusFor(err error) int {
	var transport *onvif.TransportError
	switch {
	case errors.Is(err, onvif.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, onvif.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case onvif.IsFault(err):
		return http.StatusBadGateway
	case errors.As(err, &transport):
		if transport.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
