// internal/models/playback.go
package models

import (
	"time"
)

// PlaybackPhase 表示播放会话所处的阶段
type PlaybackPhase string

const (
	PhaseLoading         PlaybackPhase = "loading"
	PhaseReady           PlaybackPhase = "ready"
	PhaseAdvancing       PlaybackPhase = "advancing"
	PhaseAwaitingChoice  PlaybackPhase = "awaiting_choice"
	PhaseSceneTransition PlaybackPhase = "scene_transition"
	PhaseEnded           PlaybackPhase = "ended"
	PhaseLocked          PlaybackPhase = "locked"
)

// PlaybackState 表示一个读者会话的运行时状态
// 仅存在于会话生命周期内，不作为创作内容持久化
type PlaybackState struct {
	SessionID         string                       `json:"session_id"`
	NovelID           string                       `json:"novel_id"`
	EpisodeID         string                       `json:"episode_id"`
	Phase             PlaybackPhase                `json:"phase"`
	CurrentSceneID    string                       `json:"current_scene_id"`
	CurrentNodeID     string                       `json:"current_node_id,omitempty"`
	CurrentTimeMs     int64                        `json:"current_time_ms"`
	TextCursor        int                          `json:"text_cursor"`
	Background        Background                   `json:"background"`
	VisibleCharacters map[string]CharacterInstance `json:"visible_characters"`
	ActiveText        *TextBlock                   `json:"active_text,omitempty"`
	ActiveChoiceGroup *ChoiceGroup                 `json:"active_choice_group,omitempty"`
	ActiveAudio       map[string]AudioInstance     `json:"active_audio,omitempty"`
	Variables         map[string]interface{}       `json:"variables"`
	History           []string                     `json:"history"` // 已访问场景ID（只追加的导航栈）
	LockReason        string                       `json:"lock_reason,omitempty"`
	StartedAt         time.Time                    `json:"started_at"`
}

// StateChange 表示一次状态变化
type StateChange struct {
	Kind     TimelineEventType      `json:"kind"`
	TargetID string                 `json:"target_id"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// StateDelta 表示一次时钟推进产生的状态增量
type StateDelta struct {
	TimeMs  int64         `json:"time_ms"`
	Changes []StateChange `json:"changes"`
}

// AccessResult 表示访问检查协作方的判定结果
type AccessResult struct {
	HasAccess        bool `json:"has_access"`
	RequiresLogin    bool `json:"requires_login,omitempty"`
	RequiresPurchase bool `json:"requires_purchase,omitempty"`
}
