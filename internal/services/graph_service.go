// internal/services/graph_service.go
package services

import (
	"fmt"
	"strings"

	"github.com/Corvane/StoryWeaver/internal/models"
	"github.com/Corvane/StoryWeaver/internal/utils"
)

// 合成起始节点的默认画布位置
var defaultStartPosition = models.Position{X: 250, Y: 100}

// ValidationResult 表示故事图结构校验的结果
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// NodeConnections 表示一个节点的出入连接
type NodeConnections struct {
	Incoming []models.Edge `json:"incoming"`
	Outgoing []models.Edge `json:"outgoing"`
}

// GraphService 提供故事图的结构校验与起始节点解析
type GraphService struct {
	idGen *utils.IDGenerator
}

// NewGraphService 创建故事图服务
func NewGraphService(idGen *utils.IDGenerator) *GraphService {
	if idGen == nil {
		idGen = utils.NewIDGenerator()
	}
	return &GraphService{idGen: idGen}
}

// Validate 对故事图做结构校验
// 错误阻止发布，警告只提示作者
func (s *GraphService) Validate(graph *models.StoryGraph) ValidationResult {
	result := ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	outgoing := make(map[string]int)
	for _, edge := range graph.Edges {
		outgoing[edge.SourceNodeID]++
	}

	for _, node := range graph.Nodes {
		if strings.TrimSpace(node.Title) == "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("节点 %s 缺少标题", node.NodeID))
		}
		switch node.NodeType {
		case models.NodeTypeScene:
			if node.SceneID == "" {
				result.Errors = append(result.Errors,
					fmt.Sprintf("剧情节点 %s 没有引用场景", node.NodeID))
			}
		case models.NodeTypeChoice:
			if len(node.Choices) == 0 {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("选择节点 %s 没有任何选项", node.NodeID))
			}
		case models.NodeTypeStart:
			if outgoing[node.NodeID] == 0 {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("起始节点 %s 没有出边", node.NodeID))
			}
		}
	}

	seen := make(map[string]bool)
	for _, v := range graph.Variables {
		id := strings.TrimSpace(v.VariableID)
		if id == "" || id == "null" || id == "undefined" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("变量 %q 的标识无效", v.Name))
			continue
		}
		if seen[id] {
			result.Errors = append(result.Errors,
				fmt.Sprintf("变量标识 %s 重复", id))
		}
		seen[id] = true
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// ResolveStartNode 解析起始节点，必要时合成
//
// 优先取第一个 start 类型节点；没有则取插入顺序的第一个节点；
// 节点列表为空时合成一个默认起始节点并追加。
// 返回的节点ID保证存在于返回的节点集合中，故事图永远不会以
// 无法解析的起始节点持久化。
func (s *GraphService) ResolveStartNode(nodes []models.Node) (string, []models.Node) {
	for _, node := range nodes {
		if node.NodeType == models.NodeTypeStart {
			return node.NodeID, nodes
		}
	}
	if len(nodes) > 0 {
		return nodes[0].NodeID, nodes
	}

	synthesized := models.Node{
		NodeID:   s.idGen.NodeID(),
		NodeType: models.NodeTypeStart,
		Title:    "开始",
		Position: defaultStartPosition,
	}
	return synthesized.NodeID, append(nodes, synthesized)
}

// Connections 返回节点的出入连接（按连接声明顺序线性扫描）
func (s *GraphService) Connections(graph *models.StoryGraph, nodeID string) NodeConnections {
	conns := NodeConnections{
		Incoming: []models.Edge{},
		Outgoing: []models.Edge{},
	}
	for _, edge := range graph.Edges {
		if edge.TargetNodeID == nodeID {
			conns.Incoming = append(conns.Incoming, edge)
		}
		if edge.SourceNodeID == nodeID {
			conns.Outgoing = append(conns.Outgoing, edge)
		}
	}
	return conns
}
