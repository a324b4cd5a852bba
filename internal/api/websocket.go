// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Corvane/StoryWeaver/internal/config"
	"github.com/Corvane/StoryWeaver/internal/models"
	"github.com/Corvane/StoryWeaver/internal/playback"
	"github.com/Corvane/StoryWeaver/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

// wsClientMessage 客户端发来的控制消息
type wsClientMessage struct {
	Type     string `json:"type"` // pause / resume / advance / rewind / choice
	ChoiceID string `json:"choice_id,omitempty"`
}

// wsServerMessage 推送给客户端的消息
type wsServerMessage struct {
	Type   string                 `json:"type"` // state / delta / result / error
	State  *models.PlaybackState  `json:"state,omitempty"`
	Delta  *models.StateDelta     `json:"delta,omitempty"`
	Result *playback.ChoiceResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// wsConnectionTracker 跟踪活跃的播放连接数
type wsConnectionTracker struct {
	mu    sync.RWMutex
	conns map[string]int // sessionID -> 连接数
}

var wsTracker = &wsConnectionTracker{conns: make(map[string]int)}

func (t *wsConnectionTracker) add(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[sessionID]++
}

func (t *wsConnectionTracker) remove(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[sessionID]--
	if t.conns[sessionID] <= 0 {
		delete(t.conns, sessionID)
	}
}

func (t *wsConnectionTracker) total() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0
	for _, n := range t.conns {
		total += n
	}
	return total
}

// GetWebSocketStatus 返回播放连接统计
// GET /api/ws/status
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.ResponseHelper.Success(c, gin.H{
		"connections": wsTracker.total(),
		"sessions":    h.PlaybackService.SessionCount(),
	})
}

// PlaybackWebSocket 时间轴驱动的播放连接
// GET /ws/playback/:session_id
//
// 服务端按固定的节拍间隔推进会话的逻辑时钟并推送状态增量；
// 选项组激活期间时钟暂停，客户端通过 choice 消息恢复。
// 暂停/恢复只影响节拍推进，不销毁会话。
func (h *Handler) PlaybackWebSocket(c *gin.Context) {
	logger := utils.GetLogger()

	session, err := h.PlaybackService.GetSession(c.Param("session_id"))
	if err != nil {
		h.ResponseHelper.AppError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("WebSocket升级失败", map[string]interface{}{"error": err.Error()})
		return
	}

	tickInterval := 50 * time.Millisecond
	if cfg := config.GetCurrentConfig(); cfg != nil && cfg.TickIntervalMs > 0 {
		tickInterval = time.Duration(cfg.TickIntervalMs) * time.Millisecond
	}

	wsTracker.add(session.ID())
	defer wsTracker.remove(session.ID())
	defer conn.Close()

	// 建立连接时先推送完整状态
	state := session.State()
	writeServerMessage(conn, wsServerMessage{Type: "state", State: &state})

	commands := make(chan wsClientMessage, 16)
	done := make(chan struct{})

	// 读协程：接收控制消息
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg wsClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				writeServerMessage(conn, wsServerMessage{Type: "error", Error: "消息解析失败"})
				continue
			}
			select {
			case commands <- msg:
			case <-done:
				return
			}
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	paused := false
	for {
		select {
		case <-done:
			return

		case msg := <-commands:
			switch msg.Type {
			case "pause":
				paused = true
			case "resume":
				paused = false
			case "advance":
				state, err := session.Advance()
				if err != nil {
					writeServerMessage(conn, wsServerMessage{Type: "error", Error: err.Error()})
					continue
				}
				writeServerMessage(conn, wsServerMessage{Type: "state", State: &state})
			case "rewind":
				state, err := session.Rewind()
				if err != nil {
					writeServerMessage(conn, wsServerMessage{Type: "error", Error: err.Error()})
					continue
				}
				writeServerMessage(conn, wsServerMessage{Type: "state", State: &state})
			case "choice":
				result, state, err := session.SelectChoice(msg.ChoiceID)
				if err != nil {
					writeServerMessage(conn, wsServerMessage{Type: "error", Error: err.Error()})
					continue
				}
				writeServerMessage(conn, wsServerMessage{
					Type: "result", Result: result, State: &state,
				})
			default:
				writeServerMessage(conn, wsServerMessage{Type: "error", Error: "未知消息类型"})
			}

		case <-ticker.C:
			if paused {
				continue
			}
			delta, err := session.TickAdvance(int64(tickInterval / time.Millisecond))
			if err != nil {
				// 会话已销毁，结束连接
				return
			}
			if len(delta.Changes) > 0 {
				writeServerMessage(conn, wsServerMessage{Type: "delta", Delta: &delta})
			}
		}
	}
}

func writeServerMessage(conn *websocket.Conn, msg wsServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
