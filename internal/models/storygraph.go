// internal/models/storygraph.go
package models

import (
	"time"
)

// NodeType 表示故事图节点的类型
type NodeType string

const (
	// NodeTypeStart 表示故事的起始节点
	NodeTypeStart NodeType = "start"
	// NodeTypeScene 表示引用一个场景的剧情节点
	NodeTypeScene NodeType = "scene"
	// NodeTypeChoice 表示玩家选择节点
	NodeTypeChoice NodeType = "choice"
	// NodeTypeEnding 表示结局节点
	NodeTypeEnding NodeType = "ending"
	// NodeTypeBranch 表示条件分支节点
	NodeTypeBranch NodeType = "branch"
	// NodeTypeMerge 表示分支汇合节点
	NodeTypeMerge NodeType = "merge"
	// NodeTypeVariableModifier 表示修改变量的节点
	NodeTypeVariableModifier NodeType = "variable_modifier"
)

// ActionType 表示选择动作的类型（封闭集合，不支持脚本）
type ActionType string

const (
	ActionNavigateToNode         ActionType = "navigate-to-node"
	ActionModifyVariable         ActionType = "modify-variable"
	ActionModifyRelationshipStat ActionType = "modify-relationship-stat"
	ActionSetGameVariable        ActionType = "set-game-variable"
)

// VariableOp 表示变量修改的运算方式
type VariableOp string

const (
	VariableOpSet      VariableOp = "set"
	VariableOpAdd      VariableOp = "add"
	VariableOpSubtract VariableOp = "subtract"
	VariableOpMultiply VariableOp = "multiply"
)

// Position 表示节点在编辑器画布上的位置
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// NodePresentation 节点在编辑器中的展示元数据
type NodePresentation struct {
	Color     string `json:"color,omitempty"`
	Icon      string `json:"icon,omitempty"`
	Collapsed bool   `json:"collapsed,omitempty"`
}

// Node 表示故事图中的一个节点
type Node struct {
	NodeID       string           `json:"node_id"`
	NodeType     NodeType         `json:"node_type"`
	Title        string           `json:"title"`
	Position     Position         `json:"position"`
	SceneID      string           `json:"scene_id,omitempty"` // scene 节点引用的场景
	Choices      []Choice         `json:"choices,omitempty"`  // choice 节点的选项
	Actions      []Action         `json:"actions,omitempty"`  // variable_modifier 节点的动作
	Condition    string           `json:"condition,omitempty"`
	Presentation NodePresentation `json:"presentation"`
	Notes        string           `json:"notes,omitempty"`
	EmotionTags  []string         `json:"emotion_tags,omitempty"`
}

// Edge 表示两个节点之间的有向连接
type Edge struct {
	EdgeID       string `json:"edge_id"`
	SourceNodeID string `json:"source_node_id"`
	TargetNodeID string `json:"target_node_id"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
	Label        string `json:"label"`
	Condition    string `json:"condition,omitempty"`
	Animated     bool   `json:"animated"`
	Color        string `json:"color,omitempty"`
}

// Variable 表示故事图中声明的一个故事变量
type Variable struct {
	VariableID   string      `json:"variable_id"`
	Name         string      `json:"name"`
	DataType     string      `json:"data_type"` // number, string, boolean
	InitialValue interface{} `json:"initial_value"`
	Description  string      `json:"description,omitempty"`
	IsVisible    bool        `json:"is_visible"`
	SortOrder    int         `json:"sort_order"`
}

// Choice 表示玩家可选的一个选项
type Choice struct {
	ID            string   `json:"id"`
	NodeID        string   `json:"node_id,omitempty"`
	Text          string   `json:"text"`
	HoverText     string   `json:"hover_text,omitempty"`
	Actions       []Action `json:"actions"`
	IsMajorChoice bool     `json:"is_major_choice"`
	IsTimed       bool     `json:"is_timed"`
	TimeLimitMs   int64    `json:"time_limit_ms,omitempty"`
	FeedbackText  string   `json:"feedback_text,omitempty"`
}

// Action 表示选项触发的一个声明式效果
type Action struct {
	ID           string      `json:"id"`
	Type         ActionType  `json:"type"`
	TargetNodeID string      `json:"target_node_id,omitempty"` // navigate-to-node
	VariableID   string      `json:"variable_id,omitempty"`    // modify-variable / set-game-variable
	CharacterID  string      `json:"character_id,omitempty"`   // modify-relationship-stat
	StatName     string      `json:"stat_name,omitempty"`
	Operation    VariableOp  `json:"operation,omitempty"`
	Value        interface{} `json:"value,omitempty"`
}

// StoryGraph 表示一个章节的完整故事图
// 每个 (novel, episode) 只有一个活跃的故事图，版本号单调递增
type StoryGraph struct {
	ID             string     `json:"id"`
	NovelID        string     `json:"novel_id"`
	EpisodeID      string     `json:"episode_id"`
	Version        int64      `json:"version"`
	StartNodeID    string     `json:"start_node_id"`
	Nodes          []Node     `json:"nodes"`
	Edges          []Edge     `json:"edges"`
	Variables      []Variable `json:"variables"`
	LastModifiedBy string     `json:"last_modified_by,omitempty"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// FindNode 按ID查找节点，未找到返回 nil
func (g *StoryGraph) FindNode(nodeID string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].NodeID == nodeID {
			return &g.Nodes[i]
		}
	}
	return nil
}

// FindVariable 按ID查找变量声明，未找到返回 nil
func (g *StoryGraph) FindVariable(variableID string) *Variable {
	for i := range g.Variables {
		if g.Variables[i].VariableID == variableID {
			return &g.Variables[i]
		}
	}
	return nil
}

// Episode 表示章节摘要信息（保存响应中返回）
type Episode struct {
	NovelID     string    `json:"novel_id"`
	EpisodeID   string    `json:"episode_id"`
	Title       string    `json:"title"`
	AuthorID    string    `json:"author_id"`
	CoAuthorIDs []string  `json:"co_author_ids,omitempty"`
	IsFree      bool      `json:"is_free"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsAuthoredBy 判断用户是否为作者或协作者
func (e *Episode) IsAuthoredBy(userID string) bool {
	if userID == "" {
		return false
	}
	if e.AuthorID == userID {
		return true
	}
	for _, id := range e.CoAuthorIDs {
		if id == userID {
			return true
		}
	}
	return false
}
