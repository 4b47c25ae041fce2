package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sebas/dialer/internal/dialer/campaign"
	"github.com/sebas/dialer/internal/dialer/channel"
	"github.com/sebas/dialer/internal/dialer/session"
)

type placeCallRequest struct {
	ConversationID    string `json:"conversationId" binding:"required"`
	TicketID          string `json:"ticketId"`
	CustomerID        string `json:"customerId"`
	AuthToken         string `json:"authToken"`
	PhoneTargetID     string `json:"phoneTargetId"`
	CompanyPhoneID    string `json:"companyPhoneId"`
	ProviderName      string `json:"providerName"`
	ProviderProfileID string `json:"providerProfileId"`
}

func (r placeCallRequest) target() session.Target {
	return session.Target{
		ConversationID:    r.ConversationID,
		TicketID:          r.TicketID,
		CustomerID:        r.CustomerID,
		AuthToken:         r.AuthToken,
		PhoneTargetID:     r.PhoneTargetID,
		CompanyPhoneID:    r.CompanyPhoneID,
		ProviderName:      r.ProviderName,
		ProviderProfileID: r.ProviderProfileID,
	}
}

type muteRequest struct {
	Leg   string `json:"leg" binding:"required"`
	Muted bool   `json:"muted"`
}

type startCampaignRequest struct {
	LabelID        string `json:"labelId" binding:"required"`
	ProviderName   string `json:"providerName"`
	MaxAttempts    *int   `json:"maxAttempts"`
	CompanyPhoneID string `json:"companyPhoneId"`
}

type callResponse struct {
	CallID    string    `json:"callId"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"startedAt"`
}

func (s *Server) handleHealth(c *gin.Context) {
	status, code := "ok", http.StatusOK
	body := gin.H{
		"operatorId": s.deps.OperatorID,
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.deps.Ready != nil {
		if err := s.deps.Ready(); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
			body["error"] = err.Error()
		}
	}
	body["status"] = status
	c.JSON(code, body)
}

func (s *Server) handleCallStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Calls.Status())
}

func (s *Server) handlePlaceCall(c *gin.Context) {
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	if req.PhoneTargetID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": "phoneTargetId is required"})
		return
	}
	call, err := s.deps.Calls.PlaceOutbound(c.Request.Context(), req.target())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, callResponse{CallID: call.ID, Mode: call.Mode.String(), StartedAt: call.StartedAt})
}

func (s *Server) handleJoin(c *gin.Context) {
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	call, err := s.deps.Calls.Join(c.Request.Context(), req.target())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, callResponse{CallID: call.ID, Mode: call.Mode.String(), StartedAt: call.StartedAt})
}

func (s *Server) handleAnswer(c *gin.Context) {
	if err := s.deps.Calls.Answer(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Calls.Status())
}

func (s *Server) handleDecline(c *gin.Context) {
	if err := s.deps.Calls.Decline(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHangup(c *gin.Context) {
	if err := s.deps.Calls.Hangup(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	var kind channel.Kind
	switch req.Leg {
	case "internal":
		kind = channel.KindInternal
	case "external":
		kind = channel.KindExternal
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": "leg must be internal or external"})
		return
	}
	if err := s.deps.Calls.Mute(c.Request.Context(), kind, req.Muted); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Calls.Status())
}

func (s *Server) handleCampaignStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Campaigns.Status())
}

func (s *Server) handleStartCampaign(c *gin.Context) {
	var req startCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	if req.MaxAttempts != nil && *req.MaxAttempts < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": "maxAttempts must be positive"})
		return
	}
	opts := campaign.Options{MaxAttempts: req.MaxAttempts, CompanyPhoneID: req.CompanyPhoneID}
	if err := s.deps.Campaigns.Start(c.Request.Context(), req.LabelID, req.ProviderName, opts); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.deps.Campaigns.Status())
}

func (s *Server) handleStopCampaign(c *gin.Context) {
	if err := s.deps.Campaigns.Stop(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Campaigns.Status())
}

func (s *Server) handleRoster(c *gin.Context) {
	id := c.Param("conversation_id")
	if s.deps.Roster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "roster unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversationId": id,
		"participants":   s.deps.Roster.Snapshot(id),
	})
}

// statusFor maps dialer errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, campaign.ErrInvalidLabel):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionActive),
		errors.Is(err, campaign.ErrCampaignRunning),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrNotIncoming),
		errors.Is(err, channel.ErrNotActive),
		errors.Is(err, channel.ErrNoIncoming):
		return http.StatusConflict
	case errors.Is(err, channel.ErrCallingDisabled),
		errors.Is(err, channel.ErrNotAuthorized),
		errors.Is(err, channel.ErrNotReady),
		errors.Is(err, session.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
