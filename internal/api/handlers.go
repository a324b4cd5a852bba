// internal/api/handlers.go
package api

import (
	"errors"
	"net/http"

	apperrors "github.com/Corvane/StoryWeaver/internal/errors"
	"github.com/Corvane/StoryWeaver/internal/models"
	"github.com/Corvane/StoryWeaver/internal/playback"
	"github.com/Corvane/StoryWeaver/internal/services"
	"github.com/gin-gonic/gin"
)

// Handler API处理器
type Handler struct {
	SaveService     *services.SaveService
	GraphService    *services.GraphService
	PlaybackService *services.PlaybackService

	ResponseHelper *ResponseHelper
}

// NewHandler 创建API处理器
func NewHandler(
	saveService *services.SaveService,
	graphService *services.GraphService,
	playbackService *services.PlaybackService,
) *Handler {
	return &Handler{
		SaveService:     saveService,
		GraphService:    graphService,
		PlaybackService: playbackService,
		ResponseHelper:  NewResponseHelper(),
	}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	h.ResponseHelper.Success(c, gin.H{
		"status":   "ok",
		"sessions": h.PlaybackService.SessionCount(),
	})
}

// ===============================
// 作者侧：故事图
// ===============================

// SaveStoryMap 保存章节的故事图
// POST /api/novels/:novel_id/episodes/:episode_id/story-map
func (h *Handler) SaveStoryMap(c *gin.Context) {
	novelID := c.Param("novel_id")
	episodeID := c.Param("episode_id")
	userID, _ := GetUserFromContext(c)

	var req models.SaveStoryMapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ResponseHelper.BadRequest(c, "请求体解析失败", err.Error())
		return
	}

	result, err := h.SaveService.SaveStoryMap(c.Request.Context(), novelID, episodeID, userID, &req)
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}

	h.ResponseHelper.Success(c, result, "故事图已保存")
}

// GetStoryMap 读取章节当前活跃的故事图
// GET /api/novels/:novel_id/episodes/:episode_id/story-map
func (h *Handler) GetStoryMap(c *gin.Context) {
	novelID := c.Param("novel_id")
	episodeID := c.Param("episode_id")

	graph, err := h.SaveService.GetStoryMap(c.Request.Context(), novelID, episodeID)
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}

	h.ResponseHelper.Success(c, graph)
}

// DeleteStoryMap 停用章节的活跃故事图
// DELETE /api/novels/:novel_id/episodes/:episode_id/story-map
func (h *Handler) DeleteStoryMap(c *gin.Context) {
	novelID := c.Param("novel_id")
	episodeID := c.Param("episode_id")
	userID, _ := GetUserFromContext(c)

	if err := h.SaveService.DeleteStoryMap(c.Request.Context(), novelID, episodeID, userID); err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}

	h.ResponseHelper.Success(c, nil, "故事图已停用")
}

// ValidateStoryMap 校验章节当前活跃的故事图
// GET /api/novels/:novel_id/episodes/:episode_id/story-map/validate
func (h *Handler) ValidateStoryMap(c *gin.Context) {
	novelID := c.Param("novel_id")
	episodeID := c.Param("episode_id")

	graph, err := h.SaveService.GetStoryMap(c.Request.Context(), novelID, episodeID)
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}

	h.ResponseHelper.Success(c, h.GraphService.Validate(graph))
}

// GetNodeConnections 读取节点的出入连接
// GET /api/novels/:novel_id/episodes/:episode_id/story-map/nodes/:node_id/connections
func (h *Handler) GetNodeConnections(c *gin.Context) {
	novelID := c.Param("novel_id")
	episodeID := c.Param("episode_id")
	nodeID := c.Param("node_id")

	graph, err := h.SaveService.GetStoryMap(c.Request.Context(), novelID, episodeID)
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}
	if graph.FindNode(nodeID) == nil {
		h.ResponseHelper.Error(c, http.StatusNotFound, ErrorNotFound, "节点不存在")
		return
	}

	h.ResponseHelper.Success(c, h.GraphService.Connections(graph, nodeID))
}

// ===============================
// 作者侧：章节与场景
// ===============================

// episodeRequest 章节写入请求体
type episodeRequest struct {
	Title       string   `json:"title" binding:"required"`
	CoAuthorIDs []string `json:"co_author_ids"`
	IsFree      bool     `json:"is_free"`
}

// UpsertEpisode 写入或更新章节摘要
// PUT /api/novels/:novel_id/episodes/:episode_id
func (h *Handler) UpsertEpisode(c *gin.Context) {
	novelID := c.Param("novel_id")
	episodeID := c.Param("episode_id")
	userID, _ := GetUserFromContext(c)

	var req episodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ResponseHelper.BadRequest(c, "请求体解析失败", err.Error())
		return
	}

	episode, err := h.SaveService.UpsertEpisode(c.Request.Context(), userID, models.Episode{
		NovelID:     novelID,
		EpisodeID:   episodeID,
		Title:       req.Title,
		CoAuthorIDs: req.CoAuthorIDs,
		IsFree:      req.IsFree,
	})
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}

	h.ResponseHelper.Success(c, episode, "章节已保存")
}

// GetEpisode 读取章节摘要
// GET /api/novels/:novel_id/episodes/:episode_id
func (h *Handler) GetEpisode(c *gin.Context) {
	episode, err := h.SaveService.GetEpisode(c.Request.Context(),
		c.Param("novel_id"), c.Param("episode_id"))
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}
	h.ResponseHelper.Success(c, episode)
}

// PutScene 写入或更新场景内容
// PUT /api/novels/:novel_id/episodes/:episode_id/scenes/:scene_id
func (h *Handler) PutScene(c *gin.Context) {
	novelID := c.Param("novel_id")
	episodeID := c.Param("episode_id")
	sceneID := c.Param("scene_id")
	userID, _ := GetUserFromContext(c)

	var scene models.Scene
	if err := c.ShouldBindJSON(&scene); err != nil {
		h.ResponseHelper.BadRequest(c, "请求体解析失败", err.Error())
		return
	}
	scene.NovelID = novelID
	scene.EpisodeID = episodeID
	scene.SceneID = sceneID

	if err := h.SaveService.PutScene(c.Request.Context(), userID, scene); err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}

	h.ResponseHelper.Success(c, nil, "场景已保存")
}

// GetScene 读取场景内容；scene_id 为 "first" 时解析为起始场景
// GET /api/novels/:novel_id/episodes/:episode_id/scenes/:scene_id
func (h *Handler) GetScene(c *gin.Context) {
	scene, err := h.PlaybackService.FetchScene(c.Request.Context(),
		c.Param("novel_id"), c.Param("episode_id"), c.Param("scene_id"))
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}
	h.ResponseHelper.Success(c, scene)
}

// ===============================
// 读者侧：播放会话
// ===============================

// createSessionRequest 创建播放会话的请求体
type createSessionRequest struct {
	NovelID   string `json:"novel_id" binding:"required"`
	EpisodeID string `json:"episode_id" binding:"required"`
}

// CreateSession 创建播放会话并加载起始场景
// POST /api/playback/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ResponseHelper.BadRequest(c, "请求体解析失败", err.Error())
		return
	}
	readerID, _ := GetUserFromContext(c)

	_, state, err := h.PlaybackService.CreateSession(
		c.Request.Context(), req.NovelID, req.EpisodeID, readerID)
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}

	h.ResponseHelper.Created(c, state, "播放会话已创建")
}

// GetSessionState 读取会话当前状态
// GET /api/playback/sessions/:session_id
func (h *Handler) GetSessionState(c *gin.Context) {
	session, err := h.PlaybackService.GetSession(c.Param("session_id"))
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}
	h.ResponseHelper.Success(c, session.State())
}

// AdvanceSession 推进会话
// POST /api/playback/sessions/:session_id/advance
func (h *Handler) AdvanceSession(c *gin.Context) {
	session, err := h.PlaybackService.GetSession(c.Param("session_id"))
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}

	state, err := session.Advance()
	if err != nil {
		h.playbackError(c, err, state)
		return
	}
	h.ResponseHelper.Success(c, state)
}

// RewindSession 回退会话
// POST /api/playback/sessions/:session_id/rewind
func (h *Handler) RewindSession(c *gin.Context) {
	session, err := h.PlaybackService.GetSession(c.Param("session_id"))
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}

	state, err := session.Rewind()
	if err != nil {
		h.playbackError(c, err, state)
		return
	}
	h.ResponseHelper.Success(c, state)
}

// choiceRequest 选择请求体
type choiceRequest struct {
	ChoiceID string `json:"choice_id" binding:"required"`
}

// SelectChoice 解析会话中的一次选择
// POST /api/playback/sessions/:session_id/choice
func (h *Handler) SelectChoice(c *gin.Context) {
	session, err := h.PlaybackService.GetSession(c.Param("session_id"))
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}

	var req choiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ResponseHelper.BadRequest(c, "请求体解析失败", err.Error())
		return
	}

	result, state, err := session.SelectChoice(req.ChoiceID)
	if err != nil {
		h.playbackError(c, err, state)
		return
	}
	h.ResponseHelper.Success(c, gin.H{
		"result": result,
		"state":  state,
	})
}

// jumpRequest 跳转请求体
type jumpRequest struct {
	SceneID string `json:"scene_id" binding:"required"`
}

// JumpSession 直接跳转到指定场景
// POST /api/playback/sessions/:session_id/jump
func (h *Handler) JumpSession(c *gin.Context) {
	session, err := h.PlaybackService.GetSession(c.Param("session_id"))
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}

	var req jumpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ResponseHelper.BadRequest(c, "请求体解析失败", err.Error())
		return
	}

	state, err := session.Jump(req.SceneID)
	if err != nil {
		h.playbackError(c, err, state)
		return
	}
	h.ResponseHelper.Success(c, state)
}

// CloseSession 销毁会话
// DELETE /api/playback/sessions/:session_id
func (h *Handler) CloseSession(c *gin.Context) {
	if err := h.PlaybackService.CloseSession(c.Param("session_id")); err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}
	h.ResponseHelper.Success(c, nil, "播放会话已关闭")
}

// ===============================
// 认证
// ===============================

// tokenRequest 签发令牌的请求体
type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role"`
}

// IssueToken 签发认证令牌（开发模式专用，生产环境由外部身份系统签发）
// POST /api/auth/token
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ResponseHelper.BadRequest(c, "请求体解析失败", err.Error())
		return
	}
	role := req.Role
	if role != "author" {
		role = "reader"
	}

	token, err := GenerateUserToken(req.UserID, role)
	if err != nil {
		h.ResponseHelper.InternalError(c, "签发令牌失败", err.Error())
		return
	}
	h.ResponseHelper.Success(c, gin.H{"token": token, "role": role})
}

// playbackError 把播放引擎错误映射为HTTP响应
func (h *Handler) playbackError(c *gin.Context, err error, state models.PlaybackState) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.ResponseHelper.AppError(c, err)
		return
	}

	switch {
	case errors.Is(err, playback.ErrSessionClosed):
		h.ResponseHelper.Error(c, http.StatusGone, ErrorSessionClosed, err.Error())
	case errors.Is(err, playback.ErrAwaitingChoice):
		c.JSON(http.StatusConflict, &APIResponse{
			Success: false,
			Data:    state,
			Error:   &APIError{Code: ErrorAwaitingChoice, Message: err.Error()},
		})
	case errors.Is(err, playback.ErrNoActiveChoices),
		errors.Is(err, playback.ErrChoiceNotFound),
		errors.Is(err, playback.ErrAlreadyResolving):
		h.ResponseHelper.Error(c, http.StatusBadRequest, ErrorChoiceInvalid, err.Error())
	default:
		h.ResponseHelper.InternalError(c, "播放处理失败", err.Error())
	}
}
