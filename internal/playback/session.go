// internal/playback/session.go
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Corvane/StoryWeaver/internal/models"
	"github.com/Corvane/StoryWeaver/internal/utils"
)

// SceneFetcher 是场景内容的外部提供方
type SceneFetcher interface {
	FetchScene(ctx context.Context, novelID, episodeID, sceneID string) (*models.Scene, error)
}

// AccessChecker 是访问检查协作方：判定读者是否可以加载章节内容
type AccessChecker interface {
	CheckAccess(ctx context.Context, novelID, episodeID, readerID string) (models.AccessResult, error)
}

// ErrSessionClosed 表示会话已被销毁
var ErrSessionClosed = fmt.Errorf("会话已关闭")

// ErrAwaitingChoice 表示会话正在等待选择，不能推进
var ErrAwaitingChoice = fmt.Errorf("正在等待选择")

// Session 是驱动一个读者遍历故事图的播放会话状态机
//
// 所有变更都在调用方的单一协程上发生（HTTP处理器通过互斥锁串行化），
// 唯一的挂起点是等待选择，只能由显式的选择操作恢复。
// 会话销毁后，迟到的场景加载结果不会再修改会话状态。
type Session struct {
	mu sync.Mutex

	id       string
	novelID  string
	episode  string
	readerID string

	graph    *models.StoryGraph
	scene    *models.Scene
	state    *models.PlaybackState
	sched    *Scheduler
	vars     *VariableStore
	resolver *ChoiceResolver

	fetch  SceneFetcher
	access AccessChecker
	logger *utils.Logger

	textTimes []int64

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewSession 创建播放会话，处于 Loading 阶段
func NewSession(sessionID string, graph *models.StoryGraph, readerID string, fetch SceneFetcher, access AccessChecker) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	vars := NewVariableStore(graph.Variables)
	return &Session{
		id:       sessionID,
		novelID:  graph.NovelID,
		episode:  graph.EpisodeID,
		readerID: readerID,
		graph:    graph,
		vars:     vars,
		resolver: NewChoiceResolver(vars),
		fetch:    fetch,
		access:   access,
		logger:   utils.GetLogger(),
		ctx:      ctx,
		cancel:   cancel,
		state: &models.PlaybackState{
			SessionID:         sessionID,
			NovelID:           graph.NovelID,
			EpisodeID:         graph.EpisodeID,
			Phase:             models.PhaseLoading,
			VisibleCharacters: make(map[string]models.CharacterInstance),
			ActiveAudio:       make(map[string]models.AudioInstance),
			Variables:         vars.Snapshot(),
			History:           []string{},
			StartedAt:         time.Now(),
		},
	}
}

// ID 返回会话标识
func (s *Session) ID() string {
	return s.id
}

// Start 解析起始场景并加载
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	sceneID := s.sceneIDForNode(s.graph.StartNodeID)
	if sceneID == "" {
		return fmt.Errorf("故事图没有可解析的起始场景")
	}
	return s.loadScene(sceneID, true)
}

// State 返回播放状态的副本快照
func (s *Session) State() models.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() models.PlaybackState {
	snapshot := *s.state
	snapshot.Variables = s.vars.Snapshot()
	history := make([]string, len(s.state.History))
	copy(history, s.state.History)
	snapshot.History = history
	return snapshot
}

// Advance 推进会话
//
// 场景内还有对话 ⇒ 移动光标；没有对话但有未触发的选项组 ⇒ 等待选择；
// 都没有且场景声明了默认后继 ⇒ 切换场景；否则会话结束。
// Ended 之后的 Advance 是无操作。
func (s *Session) Advance() (models.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.PlaybackState{}, ErrSessionClosed
	}

	switch s.state.Phase {
	case models.PhaseEnded, models.PhaseLocked:
		return s.snapshotLocked(), nil
	case models.PhaseAwaitingChoice:
		return s.snapshotLocked(), ErrAwaitingChoice
	case models.PhaseLoading:
		return s.snapshotLocked(), fmt.Errorf("场景尚未加载完成")
	}

	s.state.Phase = models.PhaseAdvancing

	// 场景内还有对话：推进光标
	if s.state.TextCursor+1 < len(s.textTimes) {
		s.state.TextCursor++
		delta := s.sched.Advance(s.textTimes[s.state.TextCursor])
		applyDelta(s.state, s.scene, delta)
		if s.sched.Halted() {
			s.state.Phase = models.PhaseAwaitingChoice
		} else {
			s.state.Phase = models.PhaseReady
		}
		return s.snapshotLocked(), nil
	}

	// 对话放完了：还有未触发的选项组则推进到它
	if next := s.sched.NextChoiceTime(); next >= 0 {
		delta := s.sched.Advance(next)
		applyDelta(s.state, s.scene, delta)
		s.state.Phase = models.PhaseAwaitingChoice
		return s.snapshotLocked(), nil
	}
	if s.sched.Halted() {
		s.state.Phase = models.PhaseAwaitingChoice
		return s.snapshotLocked(), nil
	}

	// 默认后继场景
	if s.scene.DefaultNextSceneID != "" {
		s.state.Phase = models.PhaseSceneTransition
		if err := s.loadScene(s.scene.DefaultNextSceneID, true); err != nil {
			return s.snapshotLocked(), err
		}
		return s.snapshotLocked(), nil
	}

	// 没有对话、没有选择、没有后继：终态
	s.state.Phase = models.PhaseEnded
	return s.snapshotLocked(), nil
}

// Rewind 回退会话
// 场景内回退移动光标并从头重放时间轴；已在第一行时弹出导航栈回到上一个场景
func (s *Session) Rewind() (models.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.PlaybackState{}, ErrSessionClosed
	}
	if s.state.Phase == models.PhaseLocked {
		return s.snapshotLocked(), nil
	}

	if s.state.TextCursor > 0 {
		target := s.state.TextCursor - 1
		s.replayTo(target)
		s.state.Phase = models.PhaseReady
		return s.snapshotLocked(), nil
	}

	// 已经在场景开头：回到上一个场景
	if len(s.state.History) < 2 {
		return s.snapshotLocked(), nil
	}
	s.state.History = s.state.History[:len(s.state.History)-1]
	previous := s.state.History[len(s.state.History)-1]
	if err := s.loadScene(previous, false); err != nil {
		return s.snapshotLocked(), err
	}
	return s.snapshotLocked(), nil
}

// SelectChoice 解析当前激活选项组中的一个选择
func (s *Session) SelectChoice(choiceID string) (*ChoiceResult, models.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, models.PlaybackState{}, ErrSessionClosed
	}
	if s.state.Phase != models.PhaseAwaitingChoice {
		return nil, s.snapshotLocked(), ErrNoActiveChoices
	}

	if s.resolver.ActiveGroup() == nil && s.state.ActiveChoiceGroup != nil {
		s.resolver.SetActiveGroup(s.state.ActiveChoiceGroup)
	}

	result, err := s.resolver.SelectChoice(choiceID)
	if err != nil {
		return nil, s.snapshotLocked(), err
	}

	// 选项组隐藏，时钟恢复
	s.sched.ResolveChoice()
	s.state.ActiveChoiceGroup = nil
	s.state.Variables = s.vars.Snapshot()

	if result.NextNodeID != "" {
		sceneID := s.sceneIDForNode(result.NextNodeID)
		if sceneID == "" {
			s.logger.Warn("导航目标节点没有可解析的场景", map[string]interface{}{
				"session": s.id,
				"node":    result.NextNodeID,
			})
			s.state.Phase = models.PhaseReady
			return result, s.snapshotLocked(), nil
		}
		s.state.CurrentNodeID = result.NextNodeID
		s.state.Phase = models.PhaseSceneTransition
		if err := s.loadScene(sceneID, true); err != nil {
			return result, s.snapshotLocked(), err
		}
		return result, s.snapshotLocked(), nil
	}

	// 没有导航目标：继续当前场景
	s.state.Phase = models.PhaseReady
	return result, s.snapshotLocked(), nil
}

// Jump 直接跳转到指定场景
func (s *Session) Jump(sceneID string) (models.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.PlaybackState{}, ErrSessionClosed
	}
	if err := s.loadScene(sceneID, true); err != nil {
		return s.snapshotLocked(), err
	}
	return s.snapshotLocked(), nil
}

// TickAdvance 按增量毫秒推进逻辑时钟（websocket 播放驱动）
// 选项组激活期间时钟不走
func (s *Session) TickAdvance(deltaMs int64) (models.StateDelta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.StateDelta{}, ErrSessionClosed
	}
	if s.state.Phase == models.PhaseEnded || s.state.Phase == models.PhaseLocked {
		return models.StateDelta{TimeMs: s.state.CurrentTimeMs}, nil
	}
	if s.sched == nil || s.sched.Halted() {
		return models.StateDelta{TimeMs: s.state.CurrentTimeMs}, nil
	}

	now := s.sched.CurrentTime() + deltaMs
	if now < 0 {
		now = 0
	}
	delta := s.sched.Advance(now)
	applyDelta(s.state, s.scene, delta)

	// 时间轴驱动下同步对话光标
	for _, change := range delta.Changes {
		if change.Kind == models.EventShowTextBlock {
			for i, t := range s.textTimes {
				if t <= delta.TimeMs {
					s.state.TextCursor = i
				}
			}
			break
		}
	}

	if s.sched.Halted() {
		s.state.Phase = models.PhaseAwaitingChoice
	}
	return delta, nil
}

// Close 销毁会话并取消在途的场景加载
func (s *Session) Close() {
	// 先取消，让持锁的在途加载尽快返回
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// loadScene 执行访问检查并加载场景（调用方必须持有锁）
func (s *Session) loadScene(sceneID string, appendHistory bool) error {
	access, err := s.access.CheckAccess(s.ctx, s.novelID, s.episode, s.readerID)
	if err != nil {
		// 读路径不做静默修复，错误直接暴露给读者
		return fmt.Errorf("访问检查失败: %w", err)
	}
	if !access.HasAccess {
		s.state.Phase = models.PhaseLocked
		switch {
		case access.RequiresLogin:
			s.state.LockReason = "requires_login"
		case access.RequiresPurchase:
			s.state.LockReason = "requires_purchase"
		default:
			s.state.LockReason = "access_denied"
		}
		return nil
	}

	scene, err := s.fetch.FetchScene(s.ctx, s.novelID, s.episode, sceneID)
	if err != nil {
		return fmt.Errorf("加载场景失败: %w", err)
	}
	if s.closed {
		// 会话已在加载期间被销毁，丢弃迟到的结果
		return ErrSessionClosed
	}

	s.scene = scene
	s.sched = NewScheduler(scene.Timeline)
	s.textTimes = s.sched.TextShowTimes()
	newSceneState(s.state, scene)
	if appendHistory {
		s.state.History = append(s.state.History, scene.SceneID)
	}
	s.state.Phase = models.PhaseReady
	return nil
}

// replayTo 把时间轴从头重放到指定的对话光标位置
// 调度器的确定性保证重放结果与最初的推进序列一致
func (s *Session) replayTo(cursor int) {
	s.sched = NewScheduler(s.scene.Timeline)
	newSceneState(s.state, s.scene)
	s.state.TextCursor = cursor
	if cursor >= 0 && cursor < len(s.textTimes) {
		delta := s.sched.Advance(s.textTimes[cursor])
		applyDelta(s.state, s.scene, delta)
	}
}

// sceneIDForNode 解析节点对应的场景
// 沿首条出边跟随 start/branch/merge 等结构节点，途经 variable_modifier
// 节点时应用其动作；带访问标记防止环
func (s *Session) sceneIDForNode(nodeID string) string {
	visited := make(map[string]bool)
	current := nodeID
	for current != "" && !visited[current] {
		visited[current] = true
		node := s.graph.FindNode(current)
		if node == nil {
			return ""
		}
		if node.NodeType == models.NodeTypeVariableModifier {
			for _, action := range node.Actions {
				if err := s.vars.Apply(action.Operation, action.VariableID, action.Value); err != nil {
					s.logger.Warn("变量节点动作应用失败", map[string]interface{}{
						"node":  node.NodeID,
						"error": err.Error(),
					})
				}
			}
		}
		if node.SceneID != "" {
			s.state.CurrentNodeID = node.NodeID
			return node.SceneID
		}
		next := ""
		for i := range s.graph.Edges {
			if s.graph.Edges[i].SourceNodeID == current {
				next = s.graph.Edges[i].TargetNodeID
				break
			}
		}
		current = next
	}
	return ""
}
