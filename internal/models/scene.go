// internal/models/scene.go
package models

import (
	"time"
)

// TimelineEventType 表示时间轴事件的类型
type TimelineEventType string

const (
	EventShowCharacter    TimelineEventType = "SHOW_CHARACTER"
	EventHideCharacter    TimelineEventType = "HIDE_CHARACTER"
	EventShowTextBlock    TimelineEventType = "SHOW_TEXT_BLOCK"
	EventHideTextBlock    TimelineEventType = "HIDE_TEXT_BLOCK"
	EventChangeBackground TimelineEventType = "CHANGE_BACKGROUND"
	EventPlayAudio        TimelineEventType = "PLAY_AUDIO"
	EventStopAudio        TimelineEventType = "STOP_AUDIO"
	EventShowChoiceGroup  TimelineEventType = "SHOW_CHOICE_GROUP"
	EventHideChoiceGroup  TimelineEventType = "HIDE_CHOICE_GROUP"
)

// TimelineEvent 表示场景时间轴上的一个预定事件
// DurationMs 为 nil 时表示电平触发：在 currentTime 首次达到 StartTimeMs 时触发一次
type TimelineEvent struct {
	EventType   TimelineEventType      `json:"event_type"`
	TargetID    string                 `json:"target_id"`
	StartTimeMs int64                  `json:"start_time_ms"`
	DurationMs  *int64                 `json:"duration_ms,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
}

// Background 表示场景背景描述
type Background struct {
	ImageURL   string `json:"image_url,omitempty"`
	Color      string `json:"color,omitempty"`
	Transition string `json:"transition,omitempty"`
}

// CharacterInstance 表示场景中的一个角色实例
type CharacterInstance struct {
	InstanceID  string  `json:"instance_id"`
	CharacterID string  `json:"character_id"`
	Name        string  `json:"name"`
	Expression  string  `json:"expression,omitempty"`
	PositionX   float64 `json:"position_x"`
	PositionY   float64 `json:"position_y"`
	Scale       float64 `json:"scale,omitempty"`
	FlipX       bool    `json:"flip_x,omitempty"`
	Visible     bool    `json:"visible"`
}

// TextBlock 表示一段对话或旁白
type TextBlock struct {
	BlockID     string `json:"block_id"`
	SpeakerName string `json:"speaker_name,omitempty"`
	Content     string `json:"content"`
	Style       string `json:"style,omitempty"` // dialogue, narration, thought
}

// AudioInstance 表示场景中的一个音频实例
type AudioInstance struct {
	InstanceID string  `json:"instance_id"`
	URL        string  `json:"url"`
	Kind       string  `json:"kind"` // bgm, sfx, voice
	Volume     float64 `json:"volume,omitempty"`
	Loop       bool    `json:"loop,omitempty"`
}

// ChoiceGroup 表示场景中的一组互动选项
type ChoiceGroup struct {
	GroupID string   `json:"group_id"`
	Prompt  string   `json:"prompt,omitempty"`
	Choices []Choice `json:"choices"`
}

// Ending 表示结局描述
type Ending struct {
	EndingID string `json:"ending_id"`
	Title    string `json:"title"`
	Kind     string `json:"kind,omitempty"` // good, bad, neutral, secret
}

// Scene 表示一个场景的完整播放内容
type Scene struct {
	SceneID            string              `json:"scene_id"`
	NovelID            string              `json:"novel_id"`
	EpisodeID          string              `json:"episode_id"`
	Title              string              `json:"title"`
	Background         Background          `json:"background"`
	Characters         []CharacterInstance `json:"characters"`
	TextBlocks         []TextBlock         `json:"text_blocks"`
	AudioTracks        []AudioInstance     `json:"audio_tracks,omitempty"`
	Timeline           []TimelineEvent     `json:"timeline"`
	ChoiceGroups       []ChoiceGroup       `json:"choice_groups,omitempty"`
	DefaultNextSceneID string              `json:"default_next_scene_id,omitempty"`
	Ending             *Ending             `json:"ending,omitempty"`
	LastUpdated        time.Time           `json:"last_updated"`
}

// FindTextBlock 按ID查找文本块
func (s *Scene) FindTextBlock(blockID string) *TextBlock {
	for i := range s.TextBlocks {
		if s.TextBlocks[i].BlockID == blockID {
			return &s.TextBlocks[i]
		}
	}
	return nil
}

// FindChoiceGroup 按ID查找选项组
func (s *Scene) FindChoiceGroup(groupID string) *ChoiceGroup {
	for i := range s.ChoiceGroups {
		if s.ChoiceGroups[i].GroupID == groupID {
			return &s.ChoiceGroups[i]
		}
	}
	return nil
}
