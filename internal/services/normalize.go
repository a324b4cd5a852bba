// internal/services/normalize.go
package services

import (
	"fmt"
	"strings"

	"github.com/Corvane/StoryWeaver/internal/models"
	"github.com/Corvane/StoryWeaver/internal/utils"
)

// NormalizedGraph 表示规范化流水线的输出
type NormalizedGraph struct {
	StartNodeID string
	Nodes       []models.Node
	Edges       []models.Edge
	Variables   []models.Variable
	Healed      int // 被修复（丢弃/再生/改名）的条目数
}

// Normalizer 把客户端提交的松散故事图规范化为可持久化的形态
//
// 不可信输入尽可能修复而不是拒绝：无效变量被丢弃，身份冲突被再生，
// 名称冲突被追加数字后缀。每一次修复都会记录日志。
// 流水线各阶段严格按顺序执行；对自身输出再跑一遍不会产生新的冲突。
type Normalizer struct {
	idGen    *utils.IDGenerator
	graphSvc *GraphService
	logger   *utils.Logger
}

// NewNormalizer 创建规范化器
func NewNormalizer(idGen *utils.IDGenerator, graphSvc *GraphService) *Normalizer {
	return &Normalizer{
		idGen:    idGen,
		graphSvc: graphSvc,
		logger:   utils.GetLogger(),
	}
}

// isNullLikeID 判断修剪后的标识是否为空或空值字面量
func isNullLikeID(id string) bool {
	switch strings.TrimSpace(id) {
	case "", "null", "undefined", "NaN":
		return true
	default:
		return false
	}
}

// Normalize 执行完整的规范化流水线
func (n *Normalizer) Normalize(req *models.SaveStoryMapRequest) NormalizedGraph {
	result := NormalizedGraph{}

	result.Variables, result.Healed = n.NormalizeVariables(req.StoryVariables)

	nodes, healedNodes := n.normalizeNodes(req.Nodes)
	result.Nodes = nodes
	result.Healed += healedNodes

	edges, healedEdges := n.normalizeEdges(req.Edges)
	result.Edges = edges
	result.Healed += healedEdges

	// 起始节点解析放在最后：节点列表为空时会合成一个
	startID, finalNodes := n.graphSvc.ResolveStartNode(result.Nodes)
	if len(finalNodes) != len(result.Nodes) {
		n.logger.Warn("节点列表为空，已合成默认起始节点", map[string]interface{}{
			"start_node": startID,
		})
		result.Healed++
	}
	result.StartNodeID = startID
	result.Nodes = finalNodes

	return result
}

// NormalizeVariables 规范化变量集合（流水线阶段 1-4）
func (n *Normalizer) NormalizeVariables(raw []models.RawVariable) ([]models.Variable, int) {
	healed := 0

	// 阶段1：丢弃没有身份或身份为空值字面量的变量
	type candidate struct {
		id    string
		name  string
		raw   *models.RawVariable
		index int
	}
	var survivors []candidate
	for i := range raw {
		v := &raw[i]
		id := strings.TrimSpace(v.ResolveID())
		name := strings.TrimSpace(v.ResolveName())
		if isNullLikeID(id) {
			n.logger.Warn("丢弃身份无效的变量", map[string]interface{}{
				"name": name,
				"id":   id,
			})
			healed++
			continue
		}
		survivors = append(survivors, candidate{id: id, name: name, raw: v, index: i})
	}

	// 阶段2：为幸存者分配规范的身份与名称
	// 身份冲突永远再生新身份，绝不静默合并；名称冲突追加递增数字后缀
	seenIDs := make(map[string]bool)
	seenNames := make(map[string]bool)
	variables := make([]models.Variable, 0, len(survivors))
	for _, c := range survivors {
		id := c.id
		if seenIDs[id] {
			regenerated := n.idGen.VariableID(c.index)
			n.logger.Warn("变量身份冲突，已再生", map[string]interface{}{
				"original":    id,
				"regenerated": regenerated,
			})
			id = regenerated
			healed++
		}
		seenIDs[id] = true

		name := c.name
		if name == "" {
			name = id
		}
		if seenNames[name] {
			base := name
			for suffix := 2; seenNames[name]; suffix++ {
				name = fmt.Sprintf("%s_%d", base, suffix)
			}
			n.logger.Warn("变量名称冲突，已追加后缀", map[string]interface{}{
				"original": base,
				"renamed":  name,
			})
			healed++
		}
		seenNames[name] = true

		variables = append(variables, models.Variable{
			VariableID:   id,
			Name:         name,
			DataType:     c.raw.ResolveDataType(),
			InitialValue: c.raw.ResolveInitialValue(),
			Description:  c.raw.Description,
			IsVisible:    c.raw.ResolveVisible(),
			SortOrder:    len(variables),
		})
	}

	// 阶段3：第二道防御——丢弃身份仍然无效的变量
	filtered := variables[:0]
	for _, v := range variables {
		if isNullLikeID(v.VariableID) {
			healed++
			continue
		}
		filtered = append(filtered, v)
	}
	variables = filtered

	// 阶段4：按身份去重，保留首次出现
	deduped := make([]models.Variable, 0, len(variables))
	dedupSeen := make(map[string]bool)
	for _, v := range variables {
		if dedupSeen[v.VariableID] {
			healed++
			continue
		}
		dedupSeen[v.VariableID] = true
		deduped = append(deduped, v)
	}

	return deduped, healed
}

// RegenerateAllVariableIDs 用全新的令牌批次为每一个变量再生身份
// 冲突恢复路径使用：与另一个写入方或历史脏数据的身份竞争无法定位
// 具体冲突项，整批再生是唯一安全的做法
func (n *Normalizer) RegenerateAllVariableIDs(variables []models.Variable) []models.Variable {
	n.idGen.RefreshSession()
	regenerated := make([]models.Variable, len(variables))
	for i, v := range variables {
		v.VariableID = n.idGen.VariableID(i)
		regenerated[i] = v
	}
	return regenerated
}

// normalizeNodes 规范化节点集合（流水线阶段 5）
func (n *Normalizer) normalizeNodes(raw []models.RawNode) ([]models.Node, int) {
	healed := 0
	nodes := make([]models.Node, 0, len(raw))
	seen := make(map[string]bool)

	for i := range raw {
		r := &raw[i]
		id := r.ResolveID()
		if id == "" || seen[id] {
			id = n.idGen.NodeID()
			healed++
		}
		seen[id] = true

		node := models.Node{
			NodeID:       id,
			NodeType:     r.ResolveType(),
			Title:        r.ResolveTitle(),
			Position:     r.ResolvePosition(),
			SceneID:      r.ResolveSceneID(),
			Choices:      r.Choices,
			Actions:      r.Actions,
			Condition:    r.Condition,
			Presentation: r.Presentation,
			Notes:        r.Notes,
			EmotionTags:  r.EmotionTags,
		}
		if node.Choices == nil {
			node.Choices = []models.Choice{}
		}
		nodes = append(nodes, node)
	}
	return nodes, healed
}

// normalizeEdges 规范化连接集合（流水线阶段 5）
func (n *Normalizer) normalizeEdges(raw []models.RawEdge) ([]models.Edge, int) {
	healed := 0
	edges := make([]models.Edge, 0, len(raw))
	seen := make(map[string]bool)

	for i := range raw {
		r := &raw[i]
		id := r.ResolveID()
		if id == "" || seen[id] {
			id = n.idGen.EdgeID()
			healed++
		}
		seen[id] = true

		animated := false
		if r.Animated != nil {
			animated = *r.Animated
		}
		edges = append(edges, models.Edge{
			EdgeID:       id,
			SourceNodeID: r.ResolveSource(),
			TargetNodeID: r.ResolveTarget(),
			SourceHandle: r.SourceHandle,
			TargetHandle: r.TargetHandle,
			Label:        r.Label,
			Condition:    r.Condition,
			Animated:     animated,
			Color:        r.Color,
		})
	}
	return edges, healed
}
