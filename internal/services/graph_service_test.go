// internal/services/graph_service_test.go
package services

import (
	"strings"
	"testing"

	"github.com/Corvane/StoryWeaver/internal/models"
	"github.com/Corvane/StoryWeaver/internal/utils"
)

func newTestGraphService() *GraphService {
	return NewGraphService(utils.NewIDGeneratorWith(fixedNow, utils.NewSeededTokenSource(11)))
}

func TestValidateAcceptsWellFormedGraph(t *testing.T) {
	t.Parallel()

	graph := &models.StoryGraph{
		StartNodeID: "n_start",
		Nodes: []models.Node{
			{NodeID: "n_start", NodeType: models.NodeTypeStart, Title: "开始"},
			{NodeID: "n_scene", NodeType: models.NodeTypeScene, Title: "第一幕", SceneID: "s1"},
		},
		Edges: []models.Edge{
			{EdgeID: "e1", SourceNodeID: "n_start", TargetNodeID: "n_scene"},
		},
		Variables: []models.Variable{
			{VariableID: "var_a", Name: "好感度", DataType: "number"},
		},
	}

	result := newTestGraphService().Validate(graph)
	if !result.IsValid {
		t.Fatalf("合法故事图校验失败: %+v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("不应有警告: %+v", result.Warnings)
	}
}

func TestValidateReportsStructuralErrors(t *testing.T) {
	t.Parallel()

	graph := &models.StoryGraph{
		Nodes: []models.Node{
			// 缺标题且剧情节点没有引用场景：两条错误
			{NodeID: "n_scene", NodeType: models.NodeTypeScene},
		},
		Variables: []models.Variable{
			{VariableID: "null", Name: "无效身份"},
			{VariableID: "var_a", Name: "甲"},
			{VariableID: "var_a", Name: "乙"},
		},
	}

	result := newTestGraphService().Validate(graph)
	if result.IsValid {
		t.Fatal("结构缺陷应使校验失败")
	}
	if len(result.Errors) != 4 {
		t.Fatalf("错误数 = %d, 期望 4: %+v", len(result.Errors), result.Errors)
	}
	wantFragments := []string{"缺少标题", "没有引用场景", "标识无效", "重复"}
	for _, fragment := range wantFragments {
		found := false
		for _, e := range result.Errors {
			if strings.Contains(e, fragment) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("缺少包含 %q 的错误: %+v", fragment, result.Errors)
		}
	}
}

func TestValidateWarningsDoNotBlock(t *testing.T) {
	t.Parallel()

	graph := &models.StoryGraph{
		Nodes: []models.Node{
			{NodeID: "n_start", NodeType: models.NodeTypeStart, Title: "开始"},
			{NodeID: "n_choice", NodeType: models.NodeTypeChoice, Title: "抉择"},
		},
	}

	result := newTestGraphService().Validate(graph)
	if !result.IsValid {
		t.Fatalf("警告不应使校验失败: %+v", result.Errors)
	}
	// 起始节点无出边 + 选择节点无选项
	if len(result.Warnings) != 2 {
		t.Fatalf("警告数 = %d, 期望 2: %+v", len(result.Warnings), result.Warnings)
	}
}

func TestResolveStartNodePrefersStartType(t *testing.T) {
	t.Parallel()

	nodes := []models.Node{
		{NodeID: "n_scene", NodeType: models.NodeTypeScene, Title: "第一幕"},
		{NodeID: "n_start", NodeType: models.NodeTypeStart, Title: "开始"},
	}
	startID, finalNodes := newTestGraphService().ResolveStartNode(nodes)
	if startID != "n_start" {
		t.Fatalf("startID = %q, 期望 n_start", startID)
	}
	if len(finalNodes) != 2 {
		t.Fatalf("节点列表不应被改动: %+v", finalNodes)
	}
}

func TestResolveStartNodeFallsBackToFirst(t *testing.T) {
	t.Parallel()

	nodes := []models.Node{
		{NodeID: "n_a", NodeType: models.NodeTypeScene, Title: "甲"},
		{NodeID: "n_b", NodeType: models.NodeTypeScene, Title: "乙"},
	}
	startID, _ := newTestGraphService().ResolveStartNode(nodes)
	if startID != "n_a" {
		t.Fatalf("startID = %q, 期望插入顺序第一个 n_a", startID)
	}
}

// 返回的起始节点ID保证存在于返回的节点集合中
func TestResolveStartNodeSynthesizesWhenEmpty(t *testing.T) {
	t.Parallel()

	startID, nodes := newTestGraphService().ResolveStartNode(nil)
	if len(nodes) != 1 {
		t.Fatalf("空列表应合成一个节点: %+v", nodes)
	}
	if nodes[0].NodeID != startID {
		t.Fatalf("startID %q 不在节点集合中: %+v", startID, nodes)
	}
	if nodes[0].NodeType != models.NodeTypeStart || nodes[0].Title != "开始" {
		t.Fatalf("合成节点形态错误: %+v", nodes[0])
	}
}

func TestConnections(t *testing.T) {
	t.Parallel()

	graph := &models.StoryGraph{
		Edges: []models.Edge{
			{EdgeID: "e1", SourceNodeID: "a", TargetNodeID: "b"},
			{EdgeID: "e2", SourceNodeID: "b", TargetNodeID: "c"},
			{EdgeID: "e3", SourceNodeID: "c", TargetNodeID: "b"},
		},
	}

	conns := newTestGraphService().Connections(graph, "b")
	if len(conns.Incoming) != 2 || len(conns.Outgoing) != 1 {
		t.Fatalf("b 的连接 = 入%d/出%d, 期望 入2/出1", len(conns.Incoming), len(conns.Outgoing))
	}
	if conns.Incoming[0].EdgeID != "e1" || conns.Incoming[1].EdgeID != "e3" {
		t.Fatalf("入边应按声明顺序: %+v", conns.Incoming)
	}
	if conns.Outgoing[0].EdgeID != "e2" {
		t.Fatalf("出边错误: %+v", conns.Outgoing)
	}

	isolated := newTestGraphService().Connections(graph, "zzz")
	if len(isolated.Incoming) != 0 || len(isolated.Outgoing) != 0 {
		t.Fatalf("孤立节点应返回空集合: %+v", isolated)
	}
}
