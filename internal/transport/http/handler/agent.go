package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"streamchat/internal/app"
	"streamchat/internal/cache"
	"streamchat/internal/transport/http/response"
)

type AgentHandler struct {
	agentService *app.AgentService
	prefs        *cache.PreferenceStore
}

type SetAgentPreferenceRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

func NewAgentHandler(agentService *app.AgentService, prefs *cache.PreferenceStore) *AgentHandler {
	return &AgentHandler{agentService: agentService, prefs: prefs}
}

func (h *AgentHandler) ListAgents(c *gin.Context) {
	agents, err := h.agentService.ListAgents()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list agents failed")
		return
	}
	response.OK(c, agents)
}

func (h *AgentHandler) GetAgentPreference(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	agentID, err := h.prefs.LastAgent(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get agent preference failed")
		return
	}
	response.OK(c, gin.H{"agent_id": agentID})
}

// SetAgentPreference records an explicit agent switch. The agent must
// exist in the directory.
func (h *AgentHandler) SetAgentPreference(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	var req SetAgentPreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	if _, err := h.agentService.GetAgent(req.AgentID); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrAgentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeAgentNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get agent failed")
		}
		return
	}

	if err := h.prefs.SetLastAgent(c.Request.Context(), userID, req.AgentID); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "set agent preference failed")
		return
	}
	response.OK(c, gin.H{"agent_id": req.AgentID})
}
