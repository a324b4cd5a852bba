// internal/services/playback_service_test.go
package services

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Corvane/StoryWeaver/internal/errors"
	"github.com/Corvane/StoryWeaver/internal/models"
	"github.com/Corvane/StoryWeaver/internal/storage"
	"github.com/Corvane/StoryWeaver/internal/utils"
)

// fakeSceneStore 是内存版的 SceneStore
type fakeSceneStore struct {
	mu      sync.Mutex
	episode *models.Episode
	graph   *models.StoryGraph
	scenes  map[string]*models.Scene

	getActiveCalls int
}

func (f *fakeSceneStore) GetEpisode(ctx context.Context, novelID, episodeID string) (*models.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.episode == nil || f.episode.NovelID != novelID || f.episode.EpisodeID != episodeID {
		return nil, storage.ErrNotFound
	}
	ep := *f.episode
	return &ep, nil
}

func (f *fakeSceneStore) GetActiveGraph(ctx context.Context, novelID, episodeID string) (*models.StoryGraph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getActiveCalls++
	if f.graph == nil || f.graph.NovelID != novelID || f.graph.EpisodeID != episodeID {
		return nil, storage.ErrNotFound
	}
	g := *f.graph
	return &g, nil
}

func (f *fakeSceneStore) GetScene(ctx context.Context, novelID, episodeID, sceneID string) (*models.Scene, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scene, exists := f.scenes[sceneID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	s := *scene
	return &s, nil
}

func newPlaybackFixture() *fakeSceneStore {
	return &fakeSceneStore{
		episode: &models.Episode{
			NovelID: "novel1", EpisodeID: "ep1", AuthorID: "author1", IsFree: true,
		},
		graph: &models.StoryGraph{
			ID: "g1", NovelID: "novel1", EpisodeID: "ep1", Version: 1,
			StartNodeID: "n_start",
			Nodes: []models.Node{
				{NodeID: "n_start", NodeType: models.NodeTypeStart, Title: "开始"},
				{NodeID: "n_scene", NodeType: models.NodeTypeScene, Title: "第一幕", SceneID: "scene1"},
			},
			Edges: []models.Edge{
				{EdgeID: "e1", SourceNodeID: "n_start", TargetNodeID: "n_scene"},
			},
			IsActive: true,
		},
		scenes: map[string]*models.Scene{
			"scene1": {
				SceneID: "scene1", NovelID: "novel1", EpisodeID: "ep1", Title: "第一幕",
				TextBlocks: []models.TextBlock{
					{BlockID: "t1", Content: "你来了。"},
				},
				Timeline: []models.TimelineEvent{
					{EventType: models.EventShowTextBlock, TargetID: "t1", StartTimeMs: 0},
				},
			},
		},
	}
}

func newPlaybackService(t *testing.T, store *fakeSceneStore, cache *storage.SnapshotCache) *PlaybackService {
	t.Helper()
	idGen := utils.NewIDGeneratorWith(fixedNow, utils.NewSeededTokenSource(31))
	svc := NewPlaybackService(store, cache, idGen)
	t.Cleanup(svc.Close)
	return svc
}

func TestCreateSessionLoadsStartScene(t *testing.T) {
	t.Parallel()

	svc := newPlaybackService(t, newPlaybackFixture(), nil)

	session, state, err := svc.CreateSession(context.Background(), "novel1", "ep1", "reader1")
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	if state.Phase != models.PhaseReady {
		t.Fatalf("初始阶段 = %q, 期望 ready", state.Phase)
	}
	if svc.SessionCount() != 1 {
		t.Fatalf("会话数 = %d, 期望 1", svc.SessionCount())
	}

	found, err := svc.GetSession(session.ID())
	if err != nil || found.ID() != session.ID() {
		t.Fatalf("按ID检索失败: %v", err)
	}
}

func TestCreateSessionWithoutGraph(t *testing.T) {
	t.Parallel()

	store := newPlaybackFixture()
	store.graph = nil
	svc := newPlaybackService(t, store, nil)

	_, _, err := svc.CreateSession(context.Background(), "novel1", "ep1", "reader1")
	if !apperrors.IsNotFoundError(err) {
		t.Fatalf("没有故事图应返回未找到, 实际: %v", err)
	}
}

func TestGetSessionUnknownID(t *testing.T) {
	t.Parallel()

	svc := newPlaybackService(t, newPlaybackFixture(), nil)
	if _, err := svc.GetSession("ps_missing"); !apperrors.IsNotFoundError(err) {
		t.Fatalf("期望未找到错误, 实际: %v", err)
	}
}

func TestCloseSessionRemovesIt(t *testing.T) {
	t.Parallel()

	svc := newPlaybackService(t, newPlaybackFixture(), nil)
	session, _, err := svc.CreateSession(context.Background(), "novel1", "ep1", "reader1")
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}

	if err := svc.CloseSession(session.ID()); err != nil {
		t.Fatalf("关闭会话失败: %v", err)
	}
	if svc.SessionCount() != 0 {
		t.Fatalf("关闭后会话数 = %d, 期望 0", svc.SessionCount())
	}
	if err := svc.CloseSession(session.ID()); !apperrors.IsNotFoundError(err) {
		t.Fatalf("重复关闭应返回未找到, 实际: %v", err)
	}
}

// 会话创建的读路径走快照缓存
func TestCreateSessionUsesSnapshotCache(t *testing.T) {
	t.Parallel()

	cache := storage.NewSnapshotCache(time.Minute, 10)
	t.Cleanup(cache.Close)

	store := newPlaybackFixture()
	svc := newPlaybackService(t, store, cache)

	for i := 0; i < 3; i++ {
		if _, _, err := svc.CreateSession(context.Background(), "novel1", "ep1", "reader1"); err != nil {
			t.Fatalf("第 %d 次创建会话失败: %v", i+1, err)
		}
	}
	if store.getActiveCalls != 1 {
		t.Fatalf("后续创建应命中缓存, 存储调用数 = %d", store.getActiveCalls)
	}
	if svc.SessionCount() != 3 {
		t.Fatalf("会话数 = %d, 期望 3", svc.SessionCount())
	}
}

func TestFetchSceneResolvesFirst(t *testing.T) {
	t.Parallel()

	svc := newPlaybackService(t, newPlaybackFixture(), nil)

	scene, err := svc.FetchScene(context.Background(), "novel1", "ep1", "first")
	if err != nil {
		t.Fatalf("解析起始场景失败: %v", err)
	}
	if scene.SceneID != "scene1" {
		t.Fatalf("起始场景 = %q, 期望 scene1", scene.SceneID)
	}

	byID, err := svc.FetchScene(context.Background(), "novel1", "ep1", "scene1")
	if err != nil || byID.Title != "第一幕" {
		t.Fatalf("按ID读取场景失败: %+v, %v", byID, err)
	}

	if _, err := svc.FetchScene(context.Background(), "novel1", "ep1", "不存在"); !apperrors.IsNotFoundError(err) {
		t.Fatalf("不存在的场景应返回未找到, 实际: %v", err)
	}
}

// 起始节点不引用场景且没有出边时无法解析
func TestFetchSceneFirstUnresolvable(t *testing.T) {
	t.Parallel()

	store := newPlaybackFixture()
	store.graph.Edges = nil
	svc := newPlaybackService(t, store, nil)

	if _, err := svc.FetchScene(context.Background(), "novel1", "ep1", "first"); !apperrors.IsNotFoundError(err) {
		t.Fatalf("无法解析的起始场景应返回未找到, 实际: %v", err)
	}
}

// 付费章节：匿名读者被要求登录，登录读者默认放行
func TestAccessCheckerPaidEpisode(t *testing.T) {
	t.Parallel()

	store := newPlaybackFixture()
	store.episode.IsFree = false
	checker := &storeAccessChecker{store: store}

	anonymous, err := checker.CheckAccess(context.Background(), "novel1", "ep1", "")
	if err != nil {
		t.Fatalf("访问检查失败: %v", err)
	}
	if anonymous.HasAccess || !anonymous.RequiresLogin {
		t.Fatalf("匿名读者应被要求登录: %+v", anonymous)
	}

	reader, err := checker.CheckAccess(context.Background(), "novel1", "ep1", "reader1")
	if err != nil || !reader.HasAccess {
		t.Fatalf("已登录读者应放行: %+v, %v", reader, err)
	}

	// 章节元数据缺失不阻塞播放
	missing, err := checker.CheckAccess(context.Background(), "novel1", "缺失", "")
	if err != nil || !missing.HasAccess {
		t.Fatalf("元数据缺失应放行: %+v, %v", missing, err)
	}
}

// 空闲超时的会话被后台清理回收
func TestCleanupIdleSessions(t *testing.T) {
	t.Parallel()

	svc := newPlaybackService(t, newPlaybackFixture(), nil)
	session, _, err := svc.CreateSession(context.Background(), "novel1", "ep1", "reader1")
	if err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}

	svc.mu.Lock()
	svc.sessions[session.ID()].lastAccess = time.Now().Add(-time.Hour)
	svc.mu.Unlock()

	svc.cleanupIdle()
	if svc.SessionCount() != 0 {
		t.Fatalf("空闲会话未被回收, 会话数 = %d", svc.SessionCount())
	}
	if _, err := svc.GetSession(session.ID()); !apperrors.IsNotFoundError(err) {
		t.Fatalf("回收后的会话仍可检索: %v", err)
	}
}
