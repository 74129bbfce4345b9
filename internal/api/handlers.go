package api

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/valter-silva-au/duealert/pkg/models"
)

type enqueueRequest struct {
	ActionType string          `json:"action_type" binding:"required"`
	Payload    json.RawMessage `json:"payload"`
}

type connectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

type interactionRequest struct {
	Action models.AlertActionType `json:"action" binding:"required"`
}

type queueResponse struct {
	Size    int                   `json:"size"`
	Actions []models.QueuedAction `json:"actions,omitempty"`
}

type flushResponse struct {
	Replayed       int    `json:"replayed"`
	Remaining      int    `json:"remaining"`
	FailedActionID string `json:"failed_action_id,omitempty"`
	Coalesced      bool   `json:"coalesced,omitempty"`
}

type scanResponse struct {
	Skipped    bool               `json:"skipped"`
	Candidates int                `json:"candidates"`
	Selected   int                `json:"selected"`
	Delivered  int                `json:"delivered"`
	Suppressed int                `json:"suppressed"`
	Failed     int                `json:"failed"`
	Alerts     []models.AlertItem `json:"alerts,omitempty"`
}

func (s *Server) getStatus(c *gin.Context) {
	success(c, s.engine.Status())
}

func (s *Server) postAction(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid body: "+err.Error())
		return
	}
	action, err := s.engine.Enqueue(c.Request.Context(), req.ActionType, req.Payload)
	if err != nil {
		failed(c, err)
		return
	}
	success(c, action)
}

// getQueue returns the size; ?list=true adds the queued actions.
func (s *Server) getQueue(c *gin.Context) {
	resp := queueResponse{Size: s.engine.QueueSize()}
	if c.Query("list") == "true" {
		actions, err := s.engine.PendingActions(c.Request.Context())
		if err != nil {
			failed(c, err)
			return
		}
		resp.Actions = actions
		resp.Size = len(actions)
	}
	success(c, resp)
}

func (s *Server) postFlush(c *gin.Context) {
	res, err := s.engine.Flush(c.Request.Context())
	resp := flushResponse{
		Replayed:  len(res.Replayed),
		Remaining: res.Remaining,
		Coalesced: res.Coalesced,
	}
	if res.Failed != nil {
		resp.FailedActionID = res.Failed.ID
	}
	if err != nil && res.Failed == nil {
		failed(c, err)
		return
	}
	// A halted flush is a normal outcome; the failed id tells the host why.
	success(c, resp)
}

func (s *Server) postConnectivity(c *gin.Context) {
	var req connectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid body: "+err.Error())
		return
	}
	s.engine.ReportConnectivity(*req.Online)
	success(c, gin.H{"online": *req.Online})
}

func (s *Server) postInteraction(c *gin.Context) {
	var req interactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid body: "+err.Error())
		return
	}
	tag := c.Param("tag")
	if err := s.engine.Interact(tag, req.Action); err != nil {
		failed(c, err)
		return
	}
	success(c, gin.H{"tag": tag, "action": req.Action})
}

func (s *Server) getPreview(c *gin.Context) {
	alerts, err := s.engine.Preview(c.Request.Context())
	if err != nil {
		failed(c, err)
		return
	}
	if alerts == nil {
		alerts = []models.AlertItem{}
	}
	success(c, alerts)
}

func (s *Server) postScan(c *gin.Context) {
	report, err := s.engine.ScanNow(c.Request.Context())
	if err != nil {
		failed(c, err)
		return
	}
	success(c, scanResponse{
		Skipped:    report.Skipped,
		Candidates: report.Candidates,
		Selected:   report.Selected,
		Delivered:  report.Delivered,
		Suppressed: report.Suppressed,
		Failed:     report.Failed,
		Alerts:     report.Alerts,
	})
}
