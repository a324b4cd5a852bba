// internal/services/playback_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/Corvane/StoryWeaver/internal/errors"
	"github.com/Corvane/StoryWeaver/internal/models"
	"github.com/Corvane/StoryWeaver/internal/playback"
	"github.com/Corvane/StoryWeaver/internal/storage"
	"github.com/Corvane/StoryWeaver/internal/utils"
)

// SceneStore 是播放服务依赖的存储操作集合
type SceneStore interface {
	GetEpisode(ctx context.Context, novelID, episodeID string) (*models.Episode, error)
	GetActiveGraph(ctx context.Context, novelID, episodeID string) (*models.StoryGraph, error)
	GetScene(ctx context.Context, novelID, episodeID, sceneID string) (*models.Scene, error)
}

// sessionEntry 记录会话与其最近访问时间，空闲超时后被回收
type sessionEntry struct {
	session    *playback.Session
	lastAccess time.Time
}

// PlaybackService 管理播放会话的生命周期
//
// 会话常驻内存，按会话ID检索；空闲超过阈值的会话由后台清理协程
// 销毁，避免断线的读者泄漏会话。
type PlaybackService struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	store   SceneStore
	cache   *storage.SnapshotCache
	idGen   *utils.IDGenerator
	logger  *utils.Logger
	idleTTL time.Duration

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// NewPlaybackService 创建播放服务并启动空闲会话清理
func NewPlaybackService(store SceneStore, cache *storage.SnapshotCache, idGen *utils.IDGenerator) *PlaybackService {
	s := &PlaybackService{
		sessions:    make(map[string]*sessionEntry),
		store:       store,
		cache:       cache,
		idGen:       idGen,
		logger:      utils.GetLogger(),
		idleTTL:     30 * time.Minute,
		stopCleanup: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// CreateSession 为读者创建播放会话并加载起始场景
func (s *PlaybackService) CreateSession(ctx context.Context, novelID, episodeID, readerID string) (*playback.Session, models.PlaybackState, error) {
	graph, err := s.activeGraph(ctx, novelID, episodeID)
	if err != nil {
		return nil, models.PlaybackState{}, err
	}

	session := playback.NewSession(
		s.idGen.SessionID(), graph, readerID,
		&storeSceneFetcher{store: s.store},
		&storeAccessChecker{store: s.store},
	)
	if err := session.Start(); err != nil {
		session.Close()
		return nil, models.PlaybackState{}, apperrors.NewProcessingError("启动播放会话失败", err)
	}

	s.mu.Lock()
	s.sessions[session.ID()] = &sessionEntry{session: session, lastAccess: time.Now()}
	s.mu.Unlock()

	s.logger.Info("播放会话已创建", map[string]interface{}{
		"session_id": session.ID(),
		"novel_id":   novelID,
		"episode_id": episodeID,
	})
	return session, session.State(), nil
}

// GetSession 按ID检索会话并刷新其访问时间
func (s *PlaybackService) GetSession(sessionID string) (*playback.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.sessions[sessionID]
	if !exists {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("播放会话 %s 不存在", sessionID), nil)
	}
	entry.lastAccess = time.Now()
	return entry.session, nil
}

// CloseSession 销毁会话
func (s *PlaybackService) CloseSession(sessionID string) error {
	s.mu.Lock()
	entry, exists := s.sessions[sessionID]
	if exists {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if !exists {
		return apperrors.NewNotFoundError(
			fmt.Sprintf("播放会话 %s 不存在", sessionID), nil)
	}
	entry.session.Close()
	s.logger.Info("播放会话已关闭", map[string]interface{}{"session_id": sessionID})
	return nil
}

// SessionCount 返回当前存活的会话数
func (s *PlaybackService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// FetchScene 读取场景内容；sceneID 为 "first" 时解析为起始节点引用的场景
func (s *PlaybackService) FetchScene(ctx context.Context, novelID, episodeID, sceneID string) (*models.Scene, error) {
	if sceneID == "first" {
		graph, err := s.activeGraph(ctx, novelID, episodeID)
		if err != nil {
			return nil, err
		}
		resolved := resolveStartSceneID(graph)
		if resolved == "" {
			return nil, apperrors.NewNotFoundError("故事图没有可解析的起始场景", nil)
		}
		sceneID = resolved
	}

	scene, err := s.store.GetScene(ctx, novelID, episodeID, sceneID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("场景 %s 不存在", sceneID), err)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("读取场景失败", err)
	}
	return scene, nil
}

// Close 停止清理协程并销毁全部会话
func (s *PlaybackService) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})

	s.mu.Lock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, entry := range s.sessions {
		entries = append(entries, entry)
	}
	s.sessions = make(map[string]*sessionEntry)
	s.mu.Unlock()

	for _, entry := range entries {
		entry.session.Close()
	}
}

func (s *PlaybackService) activeGraph(ctx context.Context, novelID, episodeID string) (*models.StoryGraph, error) {
	if s.cache != nil {
		if cached := s.cache.Get(novelID, episodeID); cached != nil {
			return cached, nil
		}
	}
	graph, err := s.store.GetActiveGraph(ctx, novelID, episodeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("章节 %s/%s 没有故事图", novelID, episodeID), err)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("读取故事图失败", err)
	}
	if s.cache != nil {
		s.cache.Put(graph)
	}
	return graph, nil
}

func (s *PlaybackService) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupIdle()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *PlaybackService) cleanupIdle() {
	now := time.Now()

	s.mu.Lock()
	var expired []*sessionEntry
	for id, entry := range s.sessions {
		if now.Sub(entry.lastAccess) > s.idleTTL {
			expired = append(expired, entry)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, entry := range expired {
		s.logger.Info("回收空闲播放会话", map[string]interface{}{
			"session_id": entry.session.ID(),
		})
		entry.session.Close()
	}
}

// resolveStartSceneID 沿首条出边从起始节点找到第一个引用场景的节点
func resolveStartSceneID(graph *models.StoryGraph) string {
	visited := make(map[string]bool)
	current := graph.StartNodeID
	for current != "" && !visited[current] {
		visited[current] = true
		node := graph.FindNode(current)
		if node == nil {
			return ""
		}
		if node.SceneID != "" {
			return node.SceneID
		}
		next := ""
		for i := range graph.Edges {
			if graph.Edges[i].SourceNodeID == current {
				next = graph.Edges[i].TargetNodeID
				break
			}
		}
		current = next
	}
	return ""
}

// storeSceneFetcher 是播放会话的存储场景提供方
type storeSceneFetcher struct {
	store SceneStore
}

func (f *storeSceneFetcher) FetchScene(ctx context.Context, novelID, episodeID, sceneID string) (*models.Scene, error) {
	scene, err := f.store.GetScene(ctx, novelID, episodeID, sceneID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("场景 %s 不存在", sceneID)
	}
	return scene, err
}

// storeAccessChecker 基于章节元数据做访问判定
// 免费章节直接放行；付费章节要求登录，登录后默认放行
// （购买校验未接入，接入前不拦截已登录读者）
type storeAccessChecker struct {
	store SceneStore
}

func (c *storeAccessChecker) CheckAccess(ctx context.Context, novelID, episodeID, readerID string) (models.AccessResult, error) {
	episode, err := c.store.GetEpisode(ctx, novelID, episodeID)
	if errors.Is(err, storage.ErrNotFound) {
		// 章节元数据缺失不阻塞播放
		return models.AccessResult{HasAccess: true}, nil
	}
	if err != nil {
		return models.AccessResult{}, err
	}

	if episode.IsFree {
		return models.AccessResult{HasAccess: true}, nil
	}
	if readerID == "" {
		return models.AccessResult{RequiresLogin: true}, nil
	}
	return models.AccessResult{HasAccess: true}, nil
}
