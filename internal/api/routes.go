package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/paceline-project/paceline/internal/events"
	"github.com/paceline-project/paceline/internal/protocol"
	"github.com/paceline-project/paceline/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "paceline",
		"version": "1.0.0",
	})
}

// handleStatus returns the relay session and race configuration.
func (s *Server) handleStatus(c *gin.Context) {
	rd := s.cfg.GetRelayData()

	c.JSON(http.StatusOK, gin.H{
		"relay":          rd.Addr(),
		"session":        s.client.State().String(),
		"room":           rd.Room,
		"seed":           rd.Seed,
		"mode":           rd.Mode,
		"client_id":      rd.PeerClientID,
		"anchored":       s.engine.Anchored(),
		"participants":   s.engine.Count(),
		"stream_clients": s.stream.ClientCount(),
	})
}

// handleParticipants returns the full participant registry.
func (s *Server) handleParticipants(c *gin.Context) {
	participants := s.engine.Participants()
	c.JSON(http.StatusOK, gin.H{
		"count":        len(participants),
		"participants": participants,
	})
}

// handleParticipant returns one participant's snapshot.
func (s *Server) handleParticipant(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant id"})
		return
	}

	data, ok := s.engine.Participant(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":   id,
		"data": data,
	})
}

// handleHistory returns recent journal entries.
func (s *Server) handleHistory(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal is disabled"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := s.journal.Tail(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// handleSessions returns recent relay sessions from the journal.
func (s *Server) handleSessions(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal is disabled"})
		return
	}

	sessions, err := s.journal.Sessions(20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// handleSystem returns host system information and resource usage.
func (s *Server) handleSystem(c *gin.Context) {
	sysInfo := util.GetSystemInfo()

	resp := gin.H{
		"platform":        sysInfo.Platform,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	}

	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_usage_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory_used_mb"] = mem.Used
		resp["memory_usage_percent"] = mem.UsedPercent
	}
	if dir := s.cfg.GetApplicationData().Journal.Directory; dir != "" {
		if du, err := util.GetDiskUsage(dir); err == nil {
			resp["disk_free_gb"] = du.Free
			resp["disk_usage_percent"] = du.UsedPercent
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleReset orders a participant to reset.
func (s *Server) handleReset(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant id"})
		return
	}

	if err := s.client.Send(protocol.NewReset(id)); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:    events.EventResetOrdered,
		Source:  "api",
		Payload: id,
	})
	c.JSON(http.StatusOK, gin.H{"status": "reset sent", "id": id})
}

// handleMessage sends a notice to a participant.
func (s *Server) handleMessage(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant id"})
		return
	}

	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message field required"})
		return
	}

	if err := s.client.Send(protocol.NewServerMessage(id, req.Message)); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "message sent", "id": id})
}

// handleAnchor toggles this endpoint's synchronization role.
func (s *Server) handleAnchor(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled field required"})
		return
	}

	s.engine.SetAnchored(c.Request.Context(), *req.Enabled)
	if !*req.Enabled {
		if err := s.client.Send(protocol.NewDisableAnchor()); err != nil {
			c.JSON(http.StatusOK, gin.H{
				"anchored": false,
				"warning":  "relay not notified: " + err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"anchored": *req.Enabled})
}
