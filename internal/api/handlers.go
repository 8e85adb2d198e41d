package api

import (
	"net/http"

	"github.com/aiwuxian/chronica/internal/models"
	"github.com/aiwuxian/chronica/internal/narration"
	"github.com/aiwuxian/chronica/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	sessions *services.SessionService
	logger   *zap.Logger
}

func NewHandler(sessions *services.SessionService, logger *zap.Logger) *Handler {
	return &Handler{sessions: sessions, logger: logger}
}

// narrationPlan 按客户端上报的可用发音人编排内容单元的朗读队列
func narrationPlan(unit *models.ContentUnit, voices []narration.Voice) []narration.Utterance {
	if unit == nil {
		return nil
	}
	switch unit.Kind {
	case models.ContentScene:
		return narration.Plan(unit.Scene.Narrative, voices)
	case models.ContentRiddle:
		return narration.Plan(unit.Riddle.Narrative, voices)
	case models.ContentEnding:
		return narration.Plan([]models.NarrativeBlock{{
			Speaker: "narrator",
			Text:    unit.Ending.Text,
			Voice:   models.VoiceSpec{Role: "narrator", Style: "epic", Accent: "en-GB"},
		}}, voices)
	}
	return nil
}

// CreateSession 创建会话并生成开场场景
func (h *Handler) CreateSession(c *gin.Context) {
	var req struct {
		Title     string            `json:"title" binding:"required"`
		Language  string            `json:"language"`
		Players   []string          `json:"players" binding:"required"`
		TimeLimit int               `json:"time_limit"`
		Voices    []narration.Voice `json:"voices"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	sess, unit, err := h.sessions.CreateSession(c.Request.Context(), req.Title, req.Language, req.Players, req.TimeLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":   sess,
		"content":   unit,
		"narration": narrationPlan(unit, req.Voices),
	})
}

// ListSessions 会话列表
func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.ListSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// GetSession 查询单个会话
func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.sessions.GetSession(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// DeleteSession 删除会话及全部事件
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.sessions.DeleteSession(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "会话已删除"})
}

// UpdatePlot 改写剧情大纲
func (h *Handler) UpdatePlot(c *gin.Context) {
	var req models.Plot
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	sess, err := h.sessions.UpdatePlot(c.Param("id"), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// TakeTurn 提交玩家行动，返回回合结果与下一个内容单元
func (h *Handler) TakeTurn(c *gin.Context) {
	var req struct {
		Action      string             `json:"action" binding:"required"`
		IsRisky     bool               `json:"is_risky"`
		StateDelta  *models.StateDelta `json:"state_delta"`
		Story       string             `json:"story"`
		ImagePrompt string             `json:"image_prompt"`
		Voices      []narration.Voice  `json:"voices"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	result, err := h.sessions.ProcessTurn(c.Request.Context(), c.Param("id"), services.TurnInput{
		Action:      req.Action,
		IsRisky:     req.IsRisky,
		Delta:       req.StateDelta,
		Story:       req.Story,
		ImagePrompt: req.ImagePrompt,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result":    result,
		"narration": narrationPlan(result.Content, req.Voices),
	})
}

// AnswerRiddle 提交谜题回答
func (h *Handler) AnswerRiddle(c *gin.Context) {
	var req struct {
		Prompt  string            `json:"prompt"`
		Answer  string            `json:"answer" binding:"required"`
		Correct bool              `json:"correct"`
		Voices  []narration.Voice `json:"voices"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	result, err := h.sessions.AnswerRiddle(c.Request.Context(), c.Param("id"), req.Prompt, req.Answer, req.Correct)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result":    result,
		"narration": narrationPlan(result.Content, req.Voices),
	})
}

// EndSession 倒计时到点，生成结语并关闭会话
func (h *Handler) EndSession(c *gin.Context) {
	var req struct {
		Voices []narration.Voice `json:"voices"`
	}
	// 请求体可为空
	_ = c.ShouldBindJSON(&req)

	result, err := h.sessions.EndSession(c.Request.Context(), c.Param("id"), models.EndReasonTimeUp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result":    result,
		"narration": narrationPlan(result.Content, req.Voices),
	})
}

// ListEvents 完整事件日志
func (h *Handler) ListEvents(c *gin.Context) {
	events, err := h.sessions.Events(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}
