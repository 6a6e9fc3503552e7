// Package api serves the admin and status HTTP endpoints of the login server.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/l1jgo/loginserver/internal/config"
	"github.com/l1jgo/loginserver/internal/persist"
	"github.com/l1jgo/loginserver/internal/world"
)

// BanAdmin manages IP bans.
type BanAdmin interface {
	List(ctx context.Context) ([]persist.BanInfo, error)
	Add(ctx context.Context, b persist.BanInfo) error
	Remove(ctx context.Context, ip string) (bool, error)
}

// MOTDStore persists the MOTD and returns its number.
type MOTDStore interface {
	SyncMOTD(ctx context.Context, motd string) (uint32, error)
}

// AuditReader lists recent login outcomes.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]persist.AuditEntry, error)
}

// SessionCounter reports open login connections.
type SessionCounter interface {
	ActiveSessions() int64
}

// Deps wires the API to the running server. Audit and Sessions may be nil.
type Deps struct {
	Config   *config.Config
	World    *world.State
	Bans     BanAdmin
	MOTD     MOTDStore
	Audit    AuditReader
	Sessions SessionCounter
	Log      *zap.Logger
	Now      func() time.Time
}

// Server is the admin HTTP server.
type Server struct {
	deps       Deps
	router     *gin.Engine
	httpServer *http.Server
}

func NewServer(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{deps: deps}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := s.deps.Config.API.BindAddress
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.deps.Log.Info("管理 API 啟動", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.deps.Log))

	origins := s.deps.Config.API.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/api/status", s.handleStatus)

	admin := r.Group("/api")
	admin.Use(requireToken(s.deps.Config.API.Token))
	{
		admin.PUT("/state", s.handleSetState)
		admin.PUT("/motd", s.handleSetMOTD)
		admin.GET("/bans", s.handleListBans)
		admin.POST("/bans", s.handleAddBan)
		admin.DELETE("/bans/:ip", s.handleRemoveBan)
		admin.PUT("/casts/:name", s.handlePutCast)
		admin.DELETE("/casts/:name", s.handleDeleteCast)
		admin.GET("/audit", s.handleAudit)
	}
	return r
}

// requireToken checks a static bearer token. An empty token leaves the
// routes open.
func requireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
			return
		}
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("API 請求",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
