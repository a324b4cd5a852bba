// internal/playback/timeline.go
package playback

import (
	"github.com/Corvane/StoryWeaver/internal/models"
)

// Scheduler 按逻辑时钟调度场景时间轴事件
//
// 时间模型：
//   - 带 DurationMs 的事件在 [start, start+duration] 区间内处于活跃状态，
//     进入区间时应用事件，离开区间时应用其反向事件；
//   - DurationMs 为 nil 的事件是电平触发，currentTime 首次达到 start 时触发一次。
//
// 确定性约束：任何事件只依赖绝对时间，不依赖采样次数。以相同的时间
// 采样序列重放必然得到相同的最终状态，采样粒度不影响结果。
// 同一目标实例上的事件按声明顺序求值。
type Scheduler struct {
	events []models.TimelineEvent
	fired  []bool // 电平触发事件是否已触发
	active []bool // 区间事件是否处于活跃状态

	currentMs int64
	halted    bool
	choiceGID string // 当前激活的选项组
}

// NewScheduler 为场景时间轴创建调度器，时钟位于首个采样之前
func NewScheduler(events []models.TimelineEvent) *Scheduler {
	return &Scheduler{
		events:    events,
		fired:     make([]bool, len(events)),
		active:    make([]bool, len(events)),
		currentMs: -1,
	}
}

// CurrentTime 返回当前逻辑时钟（毫秒）
func (s *Scheduler) CurrentTime() int64 {
	return s.currentMs
}

// Halted 返回时钟是否因选项组激活而停止
func (s *Scheduler) Halted() bool {
	return s.halted
}

// ActiveChoiceGroup 返回当前激活的选项组ID
func (s *Scheduler) ActiveChoiceGroup() string {
	return s.choiceGID
}

// Advance 把逻辑时钟推进到 nowMs 并返回状态增量
// 选项组激活期间时钟停止，Advance 不产生任何变化
func (s *Scheduler) Advance(nowMs int64) models.StateDelta {
	delta := models.StateDelta{TimeMs: s.currentMs}
	if s.halted || nowMs <= s.currentMs {
		return delta
	}

	for i := range s.events {
		ev := &s.events[i]

		if ev.DurationMs == nil {
			// 电平触发：到达起始时间后触发一次
			if !s.fired[i] && nowMs >= ev.StartTimeMs {
				s.fired[i] = true
				delta.Changes = append(delta.Changes, models.StateChange{
					Kind:     ev.EventType,
					TargetID: ev.TargetID,
					Params:   ev.Params,
				})
				s.noteChange(ev)
				if s.halted {
					// 选项组激活，时钟冻结在该事件的起始时间
					s.currentMs = ev.StartTimeMs
					delta.TimeMs = s.currentMs
					return delta
				}
			}
			continue
		}

		end := ev.StartTimeMs + *ev.DurationMs
		activeNow := nowMs >= ev.StartTimeMs && nowMs <= end

		if activeNow && !s.active[i] {
			s.active[i] = true
			delta.Changes = append(delta.Changes, models.StateChange{
				Kind:     ev.EventType,
				TargetID: ev.TargetID,
				Params:   ev.Params,
			})
			s.noteChange(ev)
			if s.halted {
				s.currentMs = ev.StartTimeMs
				delta.TimeMs = s.currentMs
				return delta
			}
		} else if !activeNow && s.active[i] && nowMs > end {
			// 区间结束，应用反向事件；标记已触发，避免后续采样
			// 把已完成的区间当作被跳过的区间重放
			s.active[i] = false
			s.fired[i] = true
			if inverse, ok := inverseEvent(ev.EventType); ok {
				delta.Changes = append(delta.Changes, models.StateChange{
					Kind:     inverse,
					TargetID: ev.TargetID,
				})
			}
		} else if !s.active[i] && !s.fired[i] && nowMs > end {
			// 采样直接跨过了整个区间
			if ev.EventType == models.EventShowChoiceGroup {
				// 选项组不可被跳过：在其起始时间冻结时钟
				s.active[i] = true
				delta.Changes = append(delta.Changes, models.StateChange{
					Kind:     ev.EventType,
					TargetID: ev.TargetID,
					Params:   ev.Params,
				})
				s.noteChange(ev)
				s.currentMs = ev.StartTimeMs
				delta.TimeMs = s.currentMs
				return delta
			}
			// 进入与离开都已发生，依次应用事件与反向事件
			// 以保持与细粒度采样一致
			s.fired[i] = true
			delta.Changes = append(delta.Changes, models.StateChange{
				Kind:     ev.EventType,
				TargetID: ev.TargetID,
				Params:   ev.Params,
			})
			if inverse, ok := inverseEvent(ev.EventType); ok {
				delta.Changes = append(delta.Changes, models.StateChange{
					Kind:     inverse,
					TargetID: ev.TargetID,
				})
			}
		}
	}

	s.currentMs = nowMs
	delta.TimeMs = nowMs
	return delta
}

// ResolveChoice 在选项组被解析后恢复时钟
func (s *Scheduler) ResolveChoice() {
	s.halted = false
	s.choiceGID = ""
}

// NextChoiceTime 返回下一个尚未触发的选项组事件时间，没有则返回 -1
func (s *Scheduler) NextChoiceTime() int64 {
	next := int64(-1)
	for i := range s.events {
		ev := &s.events[i]
		if ev.EventType != models.EventShowChoiceGroup {
			continue
		}
		if s.fired[i] || s.active[i] {
			continue
		}
		if ev.StartTimeMs <= s.currentMs {
			continue
		}
		if next == -1 || ev.StartTimeMs < next {
			next = ev.StartTimeMs
		}
	}
	return next
}

// TextShowTimes 返回全部文本显示事件的时间（声明顺序），用于对话光标推进
func (s *Scheduler) TextShowTimes() []int64 {
	var times []int64
	for i := range s.events {
		if s.events[i].EventType == models.EventShowTextBlock {
			times = append(times, s.events[i].StartTimeMs)
		}
	}
	return times
}

// noteChange 跟踪选项组的激活与隐藏
func (s *Scheduler) noteChange(ev *models.TimelineEvent) {
	switch ev.EventType {
	case models.EventShowChoiceGroup:
		s.halted = true
		s.choiceGID = ev.TargetID
	case models.EventHideChoiceGroup:
		if ev.TargetID == s.choiceGID {
			s.halted = false
			s.choiceGID = ""
		}
	}
}

// inverseEvent 返回区间事件结束时应用的反向事件
func inverseEvent(kind models.TimelineEventType) (models.TimelineEventType, bool) {
	switch kind {
	case models.EventShowCharacter:
		return models.EventHideCharacter, true
	case models.EventShowTextBlock:
		return models.EventHideTextBlock, true
	case models.EventPlayAudio:
		return models.EventStopAudio, true
	default:
		// 背景切换与隐藏类事件没有反向动作
		return "", false
	}
}
