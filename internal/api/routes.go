package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/l1jgo/loginserver/internal/persist"
	"github.com/l1jgo/loginserver/internal/telemetry"
	"github.com/l1jgo/loginserver/internal/world"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

func (s *Server) handleStatus(c *gin.Context) {
	cfg := s.deps.Config
	motd, motdNum := s.deps.World.MOTD()
	var sessions int64
	if s.deps.Sessions != nil {
		sessions = s.deps.Sessions.ActiveSessions()
	}
	now := s.deps.Now()
	c.JSON(http.StatusOK, gin.H{
		"name":            cfg.Server.Name,
		"game_state":      s.deps.World.GameState().String(),
		"motd":            motd,
		"motd_num":        motdNum,
		"versions":        gin.H{"min": cfg.Login.VersionMin, "max": cfg.Login.VersionMax, "label": cfg.Login.VersionStr},
		"active_sessions": sessions,
		"casts":           s.deps.World.CastCount(),
		"uptime_seconds":  now.Unix() - cfg.Server.StartTime,
		"host":            telemetry.CurrentUsage(),
	})
}

type stateRequest struct {
	State string `json:"state" binding:"required"`
}

func (s *Server) handleSetState(c *gin.Context) {
	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	gs, err := world.ParseGameState(req.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prev := s.deps.World.GameState()
	s.deps.World.SetGameState(gs)
	s.deps.Log.Info("遊戲狀態變更", zap.String("from", prev.String()), zap.String("to", gs.String()))
	c.JSON(http.StatusOK, gin.H{"game_state": gs.String()})
}

type motdRequest struct {
	MOTD string `json:"motd"`
}

func (s *Server) handleSetMOTD(c *gin.Context) {
	var req motdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	num, err := s.deps.MOTD.SyncMOTD(c.Request.Context(), req.MOTD)
	if err != nil {
		s.deps.Log.Error("MOTD 儲存失敗", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "motd not saved"})
		return
	}
	s.deps.World.SetMOTD(req.MOTD, num)
	c.JSON(http.StatusOK, gin.H{"motd": req.MOTD, "motd_num": num})
}

func (s *Server) handleListBans(c *gin.Context) {
	bans, err := s.deps.Bans.List(c.Request.Context())
	if err != nil {
		s.deps.Log.Error("封鎖列表查詢失敗", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ban list unavailable"})
		return
	}
	if bans == nil {
		bans = []persist.BanInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"bans": bans})
}

// banRequest takes either an absolute expiry or a duration such as "72h".
// Neither means permanent.
type banRequest struct {
	IP        string     `json:"ip" binding:"required"`
	Reason    string     `json:"reason"`
	BannedBy  string     `json:"banned_by"`
	ExpiresAt *time.Time `json:"expires_at"`
	Duration  string     `json:"duration"`
}

func (s *Server) handleAddBan(c *gin.Context) {
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if net.ParseIP(req.IP) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ip", "ip": req.IP})
		return
	}

	now := s.deps.Now()
	ban := persist.BanInfo{IP: req.IP, Reason: req.Reason, BannedBy: req.BannedBy, BannedAt: now}
	switch {
	case req.ExpiresAt != nil:
		ban.ExpiresAt = *req.ExpiresAt
	case req.Duration != "":
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration", "duration": req.Duration})
			return
		}
		ban.ExpiresAt = now.Add(d)
	}

	if err := s.deps.Bans.Add(c.Request.Context(), ban); err != nil {
		s.deps.Log.Error("封鎖新增失敗", zap.String("ip", req.IP), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ban not saved"})
		return
	}
	s.deps.Log.Info("IP 已封鎖", zap.String("ip", req.IP), zap.String("by", req.BannedBy))
	c.JSON(http.StatusCreated, ban)
}

func (s *Server) handleRemoveBan(c *gin.Context) {
	ip := c.Param("ip")
	ok, err := s.deps.Bans.Remove(c.Request.Context(), ip)
	if err != nil {
		s.deps.Log.Error("封鎖移除失敗", zap.String("ip", ip), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ban not removed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "ban not found", "ip": ip})
		return
	}
	c.Status(http.StatusNoContent)
}

type castRequest struct {
	Viewers int `json:"viewers"`
}

func (s *Server) handlePutCast(c *gin.Context) {
	var req castRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := c.Param("name")
	s.deps.World.AddCast(name, req.Viewers)
	c.JSON(http.StatusOK, gin.H{"name": name, "viewers": max(req.Viewers, 0)})
}

func (s *Server) handleDeleteCast(c *gin.Context) {
	name := c.Param("name")
	if !s.deps.World.RemoveCast(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "cast not found", "name": name})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAudit(c *gin.Context) {
	if s.deps.Audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit disabled"})
		return
	}
	limit := defaultAuditLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxAuditLimit)
	}
	entries, err := s.deps.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		s.deps.Log.Error("登入紀錄查詢失敗", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit unavailable"})
		return
	}
	if entries == nil {
		entries = []persist.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
