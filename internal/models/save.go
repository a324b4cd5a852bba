// internal/models/save.go
package models

import (
	"math"
	"strings"
)

// 客户端提交的故事图是松散类型的：同一个字段可能以多种命名出现
// (编辑器历史版本遗留)。Raw* 类型是系统边界上的唯一适配层，
// 把遗留字段名映射到规范字段名，引擎内部不再做防御性读取。

// RawVariable 表示客户端提交的故事变量
type RawVariable struct {
	VariableID    string      `json:"variable_id"`
	CamelID       string      `json:"variableId"`
	LegacyID      string      `json:"id"`
	Name          string      `json:"name"`
	LegacyName    string      `json:"variableName"`
	DataType      string      `json:"data_type"`
	CamelDataType string      `json:"dataType"`
	LegacyType    string      `json:"type"`
	InitialValue  interface{} `json:"initial_value"`
	CamelInitial  interface{} `json:"initialValue"`
	DefaultValue  interface{} `json:"defaultValue"`
	Description   string      `json:"description"`
	IsVisible     *bool       `json:"is_visible"`
	CamelVisible  *bool       `json:"isVisible"`
}

// ResolveID 返回变量的原始标识（按字段优先级），可能为空
func (v *RawVariable) ResolveID() string {
	return firstNonEmpty(v.VariableID, v.CamelID, v.LegacyID)
}

// ResolveName 返回变量名（按字段优先级），可能为空
func (v *RawVariable) ResolveName() string {
	return firstNonEmpty(v.Name, v.LegacyName)
}

// ResolveDataType 返回变量数据类型，默认 string
func (v *RawVariable) ResolveDataType() string {
	dt := firstNonEmpty(v.DataType, v.CamelDataType, v.LegacyType)
	switch dt {
	case "number", "string", "boolean":
		return dt
	case "int", "float", "integer":
		return "number"
	case "bool":
		return "boolean"
	default:
		return "string"
	}
}

// ResolveInitialValue 返回变量初始值（按字段优先级）
func (v *RawVariable) ResolveInitialValue() interface{} {
	if v.InitialValue != nil {
		return v.InitialValue
	}
	if v.CamelInitial != nil {
		return v.CamelInitial
	}
	return v.DefaultValue
}

// ResolveVisible 返回可见性标志，默认可见
func (v *RawVariable) ResolveVisible() bool {
	if v.IsVisible != nil {
		return *v.IsVisible
	}
	if v.CamelVisible != nil {
		return *v.CamelVisible
	}
	return true
}

// RawPosition 表示客户端提交的节点位置，坐标可能是浮点数
type RawPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RawNode 表示客户端提交的节点
type RawNode struct {
	NodeID       string           `json:"node_id"`
	CamelID      string           `json:"nodeId"`
	LegacyID     string           `json:"id"`
	NodeType     string           `json:"node_type"`
	CamelType    string           `json:"nodeType"`
	LegacyType   string           `json:"type"`
	Title        string           `json:"title"`
	Label        string           `json:"label"`
	Position     *RawPosition     `json:"position"`
	PosX         *float64         `json:"pos_x"`
	PosY         *float64         `json:"pos_y"`
	SceneID      string           `json:"scene_id"`
	CamelSceneID string           `json:"sceneId"`
	Choices      []Choice         `json:"choices"`
	Actions      []Action         `json:"actions"`
	Condition    string           `json:"condition"`
	Presentation NodePresentation `json:"presentation"`
	Notes        string           `json:"notes"`
	EmotionTags  []string         `json:"emotion_tags"`
}

// ResolveID 返回节点的原始标识（按字段优先级），可能为空
func (n *RawNode) ResolveID() string {
	return firstNonEmpty(n.NodeID, n.CamelID, n.LegacyID)
}

// ResolveType 返回节点类型，未知类型回退为 scene
func (n *RawNode) ResolveType() NodeType {
	t := NodeType(firstNonEmpty(n.NodeType, n.CamelType, n.LegacyType))
	switch t {
	case NodeTypeStart, NodeTypeScene, NodeTypeChoice, NodeTypeEnding,
		NodeTypeBranch, NodeTypeMerge, NodeTypeVariableModifier:
		return t
	default:
		return NodeTypeScene
	}
}

// ResolveTitle 返回节点标题（按字段优先级）
func (n *RawNode) ResolveTitle() string {
	return firstNonEmpty(n.Title, n.Label)
}

// ResolvePosition 返回整数坐标的节点位置
func (n *RawNode) ResolvePosition() Position {
	var x, y float64
	switch {
	case n.Position != nil:
		x, y = n.Position.X, n.Position.Y
	case n.PosX != nil && n.PosY != nil:
		x, y = *n.PosX, *n.PosY
	}
	return Position{X: roundCoord(x), Y: roundCoord(y)}
}

// ResolveSceneID 返回 scene 节点引用的场景ID
func (n *RawNode) ResolveSceneID() string {
	return firstNonEmpty(n.SceneID, n.CamelSceneID)
}

// RawEdge 表示客户端提交的连接
type RawEdge struct {
	EdgeID       string `json:"edge_id"`
	CamelID      string `json:"edgeId"`
	LegacyID     string `json:"id"`
	SourceNodeID string `json:"source_node_id"`
	Source       string `json:"source"`
	TargetNodeID string `json:"target_node_id"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle"`
	TargetHandle string `json:"target_handle"`
	Label        string `json:"label"`
	Condition    string `json:"condition"`
	Animated     *bool  `json:"animated"`
	Color        string `json:"color"`
}

// ResolveID 返回连接的原始标识（按字段优先级），可能为空
func (e *RawEdge) ResolveID() string {
	return firstNonEmpty(e.EdgeID, e.CamelID, e.LegacyID)
}

// ResolveSource 返回源节点ID
func (e *RawEdge) ResolveSource() string {
	return firstNonEmpty(e.SourceNodeID, e.Source)
}

// ResolveTarget 返回目标节点ID
func (e *RawEdge) ResolveTarget() string {
	return firstNonEmpty(e.TargetNodeID, e.Target)
}

// SaveStoryMapRequest 表示作者保存故事图的完整提交
type SaveStoryMapRequest struct {
	Nodes          []RawNode     `json:"nodes"`
	Edges          []RawEdge     `json:"edges"`
	StoryVariables []RawVariable `json:"storyVariables"`
	Version        *int64        `json:"version,omitempty"`
}

// StoryMapSnapshot 表示保存成功后返回的持久化快照
type StoryMapSnapshot struct {
	ID             string     `json:"id"`
	Version        int64      `json:"version"`
	StartNodeID    string     `json:"start_node_id"`
	Nodes          []Node     `json:"nodes"`
	Edges          []Edge     `json:"edges"`
	StoryVariables []Variable `json:"storyVariables"`
	UpdatedAt      string     `json:"updated_at"`
}

// SaveStoryMapResult 表示保存操作的完整结果
type SaveStoryMapResult struct {
	StoryMap StoryMapSnapshot `json:"storyMap"`
	Episode  Episode          `json:"episode"`
	Healed   int              `json:"healed"` // 规范化过程中修复的条目数
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func roundCoord(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Round(v))
}
