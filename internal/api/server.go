// Package api exposes the club store, its mutations and the monthly views
// over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"hordegraphy/internal/attendance"
	"hordegraphy/internal/auth"
	"hordegraphy/internal/httpmiddleware"
	"hordegraphy/internal/stats"
	"hordegraphy/internal/store"
)

const maxImportBytes = 8 << 20

// Store is the part of the attendance store the API needs.
type Store interface {
	attendance.Repository
	Export(now time.Time) ([]byte, error)
	Import(data []byte) error
	Snapshot() store.Snapshot
	Healthy(ctx context.Context) bool
}

// Reporter turns member totals into a free-text report.
type Reporter interface {
	Generate(ctx context.Context, month string, totals []stats.MemberTotal) (string, error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	Store    Store
	Service  *attendance.Service
	Signer   *auth.Signer
	Reports  Reporter
	Limiter  *httpmiddleware.TokenBucket
	AdminKey string
	Log      logrus.FieldLogger
}

// Server holds the HTTP handlers.
type Server struct {
	store    Store
	svc      *attendance.Service
	signer   *auth.Signer
	reports  Reporter
	limiter  *httpmiddleware.TokenBucket
	adminKey string
	log      logrus.FieldLogger
	hub      *Hub
	now      func() time.Time
}

// New creates a server. A nil Service is built on top of the store.
func New(d Deps) *Server {
	if d.Service == nil {
		d.Service = attendance.NewService(d.Store)
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	return &Server{
		store:    d.Store,
		svc:      d.Service,
		signer:   d.Signer,
		reports:  d.Reports,
		limiter:  d.Limiter,
		adminKey: d.AdminKey,
		log:      d.Log,
		hub:      NewHub(d.Log),
		now:      time.Now,
	}
}

// OnSnapshot forwards an applied remote snapshot to stream clients.
func (s *Server) OnSnapshot(snap store.Snapshot) {
	s.hub.Broadcast(Message{Type: "snapshot", Data: snap})
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.health)

	limit := []gin.HandlerFunc{}
	if s.limiter != nil {
		limit = append(limit, s.limiter.Middleware())
	}

	pub := r.Group("/v1", limit...)
	pub.POST("/sessions", s.createSession)
	pub.POST("/sessions/refresh", s.refreshSession)
	pub.GET("/members", s.listMembers)
	pub.GET("/banned", s.listBanned)
	pub.GET("/attendance/:variant", s.getAttendance)
	pub.GET("/metadata/:variant", s.getMetadata)
	pub.GET("/session-names", s.getSessionNames)
	pub.GET("/club-link", s.getClubLink)
	pub.GET("/suggestions", s.listSuggestions)
	pub.GET("/stats", s.monthView)
	pub.GET("/fellows", s.sessionDetail)
	pub.GET("/export", s.exportBundle)
	pub.GET("/stream", s.stream)

	authed := r.Group("/v1", append([]gin.HandlerFunc{auth.ClientAuth(s.signer)}, limit...)...)
	authed.POST("/suggestions", s.addSuggestion)

	admin := authed.Group("", auth.RequireAdmin())
	admin.POST("/members", s.addMember)
	admin.PATCH("/members/:id", s.updateMember)
	admin.DELETE("/members/:id", s.deleteMember)
	admin.POST("/banned", s.banMember)
	admin.DELETE("/banned/:id", s.unbanMember)
	admin.PUT("/attendance/:variant/:date/:member/:index", s.setStatus)
	admin.DELETE("/attendance/:variant/months/:month", s.clearMonth)
	admin.PUT("/metadata/:variant/:date/sessions/:index", s.setSessionInfo)
	admin.PUT("/metadata/:variant/:date/count", s.setSessionCount)
	admin.PUT("/session-names", s.putSessionNames)
	admin.PUT("/club-link", s.putClubLink)
	admin.DELETE("/suggestions/:id", s.deleteSuggestion)
	admin.POST("/import", s.importBundle)
	admin.POST("/report", s.report)

	return r
}

func (s *Server) health(c *gin.Context) {
	remoteHealthy := s.store.Healthy(c.Request.Context())
	status := http.StatusOK
	if !remoteHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "ok", "remote": remoteHealthy, "stream_clients": s.hub.Len()})
}

func (s *Server) createSession(c *gin.Context) {
	var req struct {
		ClientID string `json:"client_id" binding:"required"`
		AdminKey string `json:"admin_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := auth.RoleViewer
	if req.AdminKey != "" {
		if s.adminKey == "" || subtle.ConstantTimeCompare([]byte(req.AdminKey), []byte(s.adminKey)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "wrong admin key"})
			return
		}
		role = auth.RoleAdmin
	}

	tokens, err := s.signer.Issue(req.ClientID, role)
	if err != nil {
		s.log.WithError(err).Error("token issue failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"role":          role,
	})
}

func (s *Server) refreshSession(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tokens, err := s.signer.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *Server) stream(c *gin.Context) {
	s.hub.serve(c, Message{Type: "snapshot", Data: s.store.Snapshot()})
}

// writeError maps service errors to status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrBanned):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrUnreadable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
