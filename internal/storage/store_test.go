// internal/storage/store_test.go
package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Corvane/StoryWeaver/internal/models"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("打开存储失败: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testContent() GraphContent {
	return GraphContent{
		StartNodeID: "n_start",
		Nodes: []models.Node{
			{NodeID: "n_start", NodeType: models.NodeTypeStart, Title: "开始"},
			{NodeID: "n_scene", NodeType: models.NodeTypeScene, Title: "第一幕", SceneID: "scene1"},
		},
		Edges: []models.Edge{
			{EdgeID: "e1", SourceNodeID: "n_start", TargetNodeID: "n_scene"},
		},
		Variables: []models.Variable{
			{VariableID: "var_trust", Name: "信任度", DataType: "number", InitialValue: float64(10), IsVisible: true},
			{VariableID: "var_flag", Name: "旗标", DataType: "boolean", InitialValue: false, IsVisible: false, SortOrder: 1},
		},
		ModifiedBy: "author1",
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open("  "); err == nil {
		t.Fatal("空路径应返回错误")
	}
}

// 迁移可以安全地重复应用
func TestOpenMigrationsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reopen.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("首次打开失败: %v", err)
	}
	if _, err := store.CreateGraph(context.Background(), "novel1", "ep1", "g1", testContent()); err != nil {
		t.Fatalf("创建故事图失败: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("重新打开失败: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	graph, err := reopened.GetActiveGraph(context.Background(), "novel1", "ep1")
	if err != nil {
		t.Fatalf("重新打开后读取失败: %v", err)
	}
	if graph.ID != "g1" || graph.Version != 1 {
		t.Fatalf("数据在重开后丢失: %+v", graph)
	}
}

func TestGraphCreateAndGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	created, err := store.CreateGraph(ctx, "novel1", "ep1", "g1", testContent())
	if err != nil {
		t.Fatalf("创建故事图失败: %v", err)
	}
	if created.Version != 1 || !created.IsActive {
		t.Fatalf("新建故事图形态错误: %+v", created)
	}

	graph, err := store.GetActiveGraph(ctx, "novel1", "ep1")
	if err != nil {
		t.Fatalf("读取活跃故事图失败: %v", err)
	}
	if graph.ID != "g1" || graph.StartNodeID != "n_start" {
		t.Fatalf("读回的故事图错误: %+v", graph)
	}
	if len(graph.Nodes) != 2 || len(graph.Edges) != 1 {
		t.Fatalf("节点/连接数错误: %d/%d", len(graph.Nodes), len(graph.Edges))
	}
	if len(graph.Variables) != 2 {
		t.Fatalf("变量数 = %d, 期望 2", len(graph.Variables))
	}
	// 变量按 sort_order 读回，初始值经过JSON往返
	first := graph.Variables[0]
	if first.VariableID != "var_trust" || first.InitialValue != float64(10) || !first.IsVisible {
		t.Fatalf("变量往返错误: %+v", first)
	}
	if graph.Variables[1].IsVisible {
		t.Fatalf("可见性未保留: %+v", graph.Variables[1])
	}

	byID, err := store.GetGraphByID(ctx, "g1")
	if err != nil || byID.EpisodeID != "ep1" {
		t.Fatalf("按ID读取失败: %+v, %v", byID, err)
	}

	if _, err := store.GetActiveGraph(ctx, "novel1", "不存在"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("不存在的章节应返回 ErrNotFound, 实际: %v", err)
	}
}

func TestReplaceGraphIncrementsVersion(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.CreateGraph(ctx, "novel1", "ep1", "g1", testContent()); err != nil {
		t.Fatalf("创建故事图失败: %v", err)
	}

	replacement := testContent()
	replacement.StartNodeID = "n_scene"
	replacement.Variables = []models.Variable{
		{VariableID: "var_new", Name: "新变量", DataType: "string", InitialValue: "值"},
	}
	replaced, err := store.ReplaceGraph(ctx, "novel1", "ep1", replacement)
	if err != nil {
		t.Fatalf("整体替换失败: %v", err)
	}
	if replaced.Version != 2 {
		t.Fatalf("版本 = %d, 期望 2", replaced.Version)
	}
	if replaced.StartNodeID != "n_scene" {
		t.Fatalf("起始节点未替换: %q", replaced.StartNodeID)
	}
	if len(replaced.Variables) != 1 || replaced.Variables[0].VariableID != "var_new" {
		t.Fatalf("变量应整体替换: %+v", replaced.Variables)
	}

	if _, err := store.ReplaceGraph(ctx, "novel1", "无故事图", testContent()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("替换不存在的故事图应返回 ErrNotFound, 实际: %v", err)
	}
}

// 每个 (novel, episode) 只允许一个活跃故事图
func TestCreateGraphDuplicateActive(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.CreateGraph(ctx, "novel1", "ep1", "g1", testContent()); err != nil {
		t.Fatalf("创建故事图失败: %v", err)
	}
	if _, err := store.CreateGraph(ctx, "novel1", "ep1", "g2", testContent()); !errors.Is(err, ErrDuplicateGraph) {
		t.Fatalf("期望 ErrDuplicateGraph, 实际: %v", err)
	}
}

// 变量身份与名称的唯一性由存储层约束保证，以哨兵错误返回
func TestVariableUniqueConstraints(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	dupID := testContent()
	dupID.Variables = []models.Variable{
		{VariableID: "var_a", Name: "甲"},
		{VariableID: "var_a", Name: "乙"},
	}
	if _, err := store.CreateGraph(ctx, "novel1", "ep1", "g1", dupID); !errors.Is(err, ErrDuplicateVariable) {
		t.Fatalf("重复身份期望 ErrDuplicateVariable, 实际: %v", err)
	}

	dupName := testContent()
	dupName.Variables = []models.Variable{
		{VariableID: "var_a", Name: "同名"},
		{VariableID: "var_b", Name: "同名"},
	}
	if _, err := store.CreateGraph(ctx, "novel1", "ep1", "g2", dupName); !errors.Is(err, ErrDuplicateVariable) {
		t.Fatalf("重复名称期望 ErrDuplicateVariable, 实际: %v", err)
	}

	// 失败的创建已回滚，干净内容可以落库
	if _, err := store.CreateGraph(ctx, "novel1", "ep1", "g3", testContent()); err != nil {
		t.Fatalf("回滚后创建失败: %v", err)
	}
}

func TestForceReplaceVariables(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.CreateGraph(ctx, "novel1", "ep1", "g1", testContent()); err != nil {
		t.Fatalf("创建故事图失败: %v", err)
	}

	forced := testContent()
	forced.Variables = []models.Variable{
		{VariableID: "var_forced", Name: "强制写入", DataType: "number", InitialValue: float64(1)},
	}
	matched, err := store.ForceReplaceVariables(ctx, "g1", forced)
	if err != nil {
		t.Fatalf("强制替换失败: %v", err)
	}
	if matched != 1 {
		t.Fatalf("匹配数 = %d, 期望 1", matched)
	}

	graph, err := store.GetGraphByID(ctx, "g1")
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if graph.Version != 2 {
		t.Fatalf("强制替换应使版本+1, 实际 %d", graph.Version)
	}
	if len(graph.Variables) != 1 || graph.Variables[0].VariableID != "var_forced" {
		t.Fatalf("变量未替换: %+v", graph.Variables)
	}

	// 目标不存在：匹配数为0且不报错，由调用方判定为并发删除
	matched, err = store.ForceReplaceVariables(ctx, "g_missing", forced)
	if err != nil || matched != 0 {
		t.Fatalf("不存在的目标应返回 (0, nil), 实际: (%d, %v)", matched, err)
	}
}

func TestUnsetThenSetVariables(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.CreateGraph(ctx, "novel1", "ep1", "g1", testContent()); err != nil {
		t.Fatalf("创建故事图失败: %v", err)
	}

	err := store.UnsetThenSetVariables(ctx, "g1", []models.Variable{
		{VariableID: "var_x", Name: "两步写入", DataType: "string", InitialValue: "x"},
	})
	if err != nil {
		t.Fatalf("两步写入失败: %v", err)
	}

	graph, err := store.GetGraphByID(ctx, "g1")
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if len(graph.Variables) != 1 || graph.Variables[0].VariableID != "var_x" {
		t.Fatalf("变量未替换: %+v", graph.Variables)
	}
	// 两步写入不改动版本号，版本+1由前置的强制替换承担
	if graph.Version != 1 {
		t.Fatalf("两步写入不应改版本, 实际 %d", graph.Version)
	}
}

func TestDeactivateGraph(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.CreateGraph(ctx, "novel1", "ep1", "g1", testContent()); err != nil {
		t.Fatalf("创建故事图失败: %v", err)
	}
	if err := store.DeactivateGraph(ctx, "novel1", "ep1"); err != nil {
		t.Fatalf("停用失败: %v", err)
	}

	if _, err := store.GetActiveGraph(ctx, "novel1", "ep1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("停用后活跃读取应返回 ErrNotFound, 实际: %v", err)
	}
	// 不做物理删除，按ID仍可读到
	graph, err := store.GetGraphByID(ctx, "g1")
	if err != nil || graph.IsActive {
		t.Fatalf("停用应保留记录: %+v, %v", graph, err)
	}

	if err := store.DeactivateGraph(ctx, "novel1", "ep1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("重复停用应返回 ErrNotFound, 实际: %v", err)
	}

	// 停用后同一章节可以再建活跃故事图
	if _, err := store.CreateGraph(ctx, "novel1", "ep1", "g2", testContent()); err != nil {
		t.Fatalf("停用后重建失败: %v", err)
	}
}

func TestEpisodeUpsertAndGet(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	episode := models.Episode{
		NovelID:     "novel1",
		EpisodeID:   "ep1",
		Title:       "第一章",
		AuthorID:    "author1",
		CoAuthorIDs: []string{"coauthor1", "coauthor2"},
		IsFree:      false,
	}
	if err := store.UpsertEpisode(ctx, episode); err != nil {
		t.Fatalf("写入章节失败: %v", err)
	}

	loaded, err := store.GetEpisode(ctx, "novel1", "ep1")
	if err != nil {
		t.Fatalf("读取章节失败: %v", err)
	}
	if loaded.Title != "第一章" || loaded.AuthorID != "author1" || loaded.IsFree {
		t.Fatalf("章节往返错误: %+v", loaded)
	}
	if len(loaded.CoAuthorIDs) != 2 || loaded.CoAuthorIDs[1] != "coauthor2" {
		t.Fatalf("协作者列表往返错误: %+v", loaded.CoAuthorIDs)
	}
	if loaded.CreatedAt.IsZero() {
		t.Fatal("创建时间应被补齐")
	}

	episode.Title = "改名后的第一章"
	episode.CreatedAt = loaded.CreatedAt
	if err := store.UpsertEpisode(ctx, episode); err != nil {
		t.Fatalf("更新章节失败: %v", err)
	}
	updated, err := store.GetEpisode(ctx, "novel1", "ep1")
	if err != nil || updated.Title != "改名后的第一章" {
		t.Fatalf("更新未生效: %+v, %v", updated, err)
	}
	if !updated.CreatedAt.Equal(loaded.CreatedAt) {
		t.Fatalf("更新不应改变创建时间: %v vs %v", updated.CreatedAt, loaded.CreatedAt)
	}

	if _, err := store.GetEpisode(ctx, "novel1", "不存在"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("不存在的章节应返回 ErrNotFound, 实际: %v", err)
	}
}

func TestScenePutAndGet(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	duration := int64(500)
	scene := models.Scene{
		SceneID:   "scene1",
		NovelID:   "novel1",
		EpisodeID: "ep1",
		Title:     "第一幕",
		TextBlocks: []models.TextBlock{
			{BlockID: "t1", SpeakerName: "爱丽丝", Content: "你来了。", Style: "dialogue"},
		},
		Timeline: []models.TimelineEvent{
			{EventType: models.EventShowTextBlock, TargetID: "t1", StartTimeMs: 0},
			{EventType: models.EventShowCharacter, TargetID: "alice", StartTimeMs: 100, DurationMs: &duration},
		},
		DefaultNextSceneID: "scene2",
	}
	if err := store.PutScene(ctx, scene); err != nil {
		t.Fatalf("写入场景失败: %v", err)
	}

	loaded, err := store.GetScene(ctx, "novel1", "ep1", "scene1")
	if err != nil {
		t.Fatalf("读取场景失败: %v", err)
	}
	if loaded.Title != "第一幕" || loaded.DefaultNextSceneID != "scene2" {
		t.Fatalf("场景往返错误: %+v", loaded)
	}
	if len(loaded.Timeline) != 2 {
		t.Fatalf("时间轴往返错误: %+v", loaded.Timeline)
	}
	if loaded.Timeline[1].DurationMs == nil || *loaded.Timeline[1].DurationMs != 500 {
		t.Fatalf("区间事件时长丢失: %+v", loaded.Timeline[1])
	}
	if loaded.Timeline[0].DurationMs != nil {
		t.Fatalf("电平事件不应有时长: %+v", loaded.Timeline[0])
	}

	scene.Title = "改名后的第一幕"
	if err := store.PutScene(ctx, scene); err != nil {
		t.Fatalf("更新场景失败: %v", err)
	}
	updated, err := store.GetScene(ctx, "novel1", "ep1", "scene1")
	if err != nil || updated.Title != "改名后的第一幕" {
		t.Fatalf("更新未生效: %+v, %v", updated, err)
	}

	if err := store.PutScene(ctx, models.Scene{NovelID: "novel1", EpisodeID: "ep1"}); err == nil {
		t.Fatal("缺少场景ID应返回错误")
	}
	if _, err := store.GetScene(ctx, "novel1", "ep1", "不存在"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("不存在的场景应返回 ErrNotFound, 实际: %v", err)
	}
}
