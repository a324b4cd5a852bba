// internal/playback/state.go
package playback

import (
	"github.com/Corvane/StoryWeaver/internal/models"
)

// newSceneState 为进入新场景初始化播放状态的场景相关部分
func newSceneState(state *models.PlaybackState, scene *models.Scene) {
	state.CurrentSceneID = scene.SceneID
	state.CurrentTimeMs = 0
	state.TextCursor = -1
	state.Background = scene.Background
	state.VisibleCharacters = make(map[string]models.CharacterInstance)
	state.ActiveText = nil
	state.ActiveChoiceGroup = nil
	state.ActiveAudio = make(map[string]models.AudioInstance)
}

// applyDelta 把调度器产生的状态增量应用到播放状态上
// 同一实例上的变化按增量内的顺序应用
func applyDelta(state *models.PlaybackState, scene *models.Scene, delta models.StateDelta) {
	state.CurrentTimeMs = delta.TimeMs

	for _, change := range delta.Changes {
		switch change.Kind {
		case models.EventShowCharacter:
			instance := findCharacter(scene, change.TargetID)
			if instance == nil {
				continue
			}
			shown := *instance
			shown.Visible = true
			if expr, ok := change.Params["expression"].(string); ok && expr != "" {
				shown.Expression = expr
			}
			if x, ok := change.Params["position_x"].(float64); ok {
				shown.PositionX = x
			}
			if y, ok := change.Params["position_y"].(float64); ok {
				shown.PositionY = y
			}
			state.VisibleCharacters[change.TargetID] = shown

		case models.EventHideCharacter:
			delete(state.VisibleCharacters, change.TargetID)

		case models.EventShowTextBlock:
			if block := scene.FindTextBlock(change.TargetID); block != nil {
				state.ActiveText = block
			}

		case models.EventHideTextBlock:
			if state.ActiveText != nil && state.ActiveText.BlockID == change.TargetID {
				state.ActiveText = nil
			}

		case models.EventChangeBackground:
			if img, ok := change.Params["image_url"].(string); ok {
				state.Background.ImageURL = img
			}
			if color, ok := change.Params["color"].(string); ok {
				state.Background.Color = color
			}
			if transition, ok := change.Params["transition"].(string); ok {
				state.Background.Transition = transition
			}

		case models.EventPlayAudio:
			// 音频启停相对时钟循环是即发即弃的
			if audio := findAudio(scene, change.TargetID); audio != nil {
				state.ActiveAudio[change.TargetID] = *audio
			}

		case models.EventStopAudio:
			delete(state.ActiveAudio, change.TargetID)

		case models.EventShowChoiceGroup:
			if group := scene.FindChoiceGroup(change.TargetID); group != nil {
				state.ActiveChoiceGroup = group
			}

		case models.EventHideChoiceGroup:
			if state.ActiveChoiceGroup != nil && state.ActiveChoiceGroup.GroupID == change.TargetID {
				state.ActiveChoiceGroup = nil
			}
		}
	}
}

func findCharacter(scene *models.Scene, instanceID string) *models.CharacterInstance {
	for i := range scene.Characters {
		if scene.Characters[i].InstanceID == instanceID {
			return &scene.Characters[i]
		}
	}
	return nil
}

func findAudio(scene *models.Scene, instanceID string) *models.AudioInstance {
	for i := range scene.AudioTracks {
		if scene.AudioTracks[i].InstanceID == instanceID {
			return &scene.AudioTracks[i]
		}
	}
	return nil
}
