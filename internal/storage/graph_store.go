// internal/storage/graph_store.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Corvane/StoryWeaver/internal/models"
)

// GraphContent 表示一次保存要写入的故事图内容
// 保存永远是整体替换，不做增量修补
type GraphContent struct {
	StartNodeID string
	Nodes       []models.Node
	Edges       []models.Edge
	Variables   []models.Variable
	ModifiedBy  string
}

// CreateGraph 为章节创建版本为1的故事图
func (s *Store) CreateGraph(ctx context.Context, novelID, episodeID, graphID string, content GraphContent) (*models.StoryGraph, error) {
	nodesJSON, edgesJSON, err := marshalGraphContent(content)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO story_graphs (
		   id, novel_id, episode_id, version, start_node_id,
		   nodes, edges, last_modified_by, is_active, created_at, updated_at
		 ) VALUES (?, ?, ?, 1, ?, ?, ?, ?, 1, ?, ?)`,
		graphID, novelID, episodeID, content.StartNodeID,
		nodesJSON, edgesJSON, content.ModifiedBy, toMillis(now), toMillis(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateGraph, novelID, episodeID)
		}
		return nil, fmt.Errorf("创建故事图失败: %w", err)
	}

	if err := insertVariables(ctx, tx, graphID, content.Variables); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}

	return &models.StoryGraph{
		ID:             graphID,
		NovelID:        novelID,
		EpisodeID:      episodeID,
		Version:        1,
		StartNodeID:    content.StartNodeID,
		Nodes:          content.Nodes,
		Edges:          content.Edges,
		Variables:      content.Variables,
		LastModifiedBy: content.ModifiedBy,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// GetActiveGraph 读取章节当前活跃的故事图
func (s *Store) GetActiveGraph(ctx context.Context, novelID, episodeID string) (*models.StoryGraph, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, novel_id, episode_id, version, start_node_id,
		        nodes, edges, last_modified_by, is_active, created_at, updated_at
		   FROM story_graphs
		  WHERE novel_id = ? AND episode_id = ? AND is_active = 1`,
		novelID, episodeID,
	)
	return s.scanGraph(ctx, row)
}

// GetGraphByID 按ID读取故事图
func (s *Store) GetGraphByID(ctx context.Context, graphID string) (*models.StoryGraph, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, novel_id, episode_id, version, start_node_id,
		        nodes, edges, last_modified_by, is_active, created_at, updated_at
		   FROM story_graphs
		  WHERE id = ?`,
		graphID,
	)
	return s.scanGraph(ctx, row)
}

// ReplaceGraph 整体替换活跃故事图的节点/连接/变量，版本号+1
// 变量表上的唯一约束冲突以 ErrDuplicateVariable 返回，由保存服务执行恢复
func (s *Store) ReplaceGraph(ctx context.Context, novelID, episodeID string, content GraphContent) (*models.StoryGraph, error) {
	nodesJSON, edgesJSON, err := marshalGraphContent(content)
	if err != nil {
		return nil, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	var graphID string
	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, version FROM story_graphs
		  WHERE novel_id = ? AND episode_id = ? AND is_active = 1`,
		novelID, episodeID,
	).Scan(&graphID, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取故事图失败: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE story_graphs
		    SET start_node_id = ?, nodes = ?, edges = ?,
		        version = version + 1, last_modified_by = ?, updated_at = ?
		  WHERE id = ?`,
		content.StartNodeID, nodesJSON, edgesJSON, content.ModifiedBy, toMillis(now), graphID,
	)
	if err != nil {
		return nil, fmt.Errorf("更新故事图失败: %w", err)
	}

	// 清空后整体重写变量
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM story_variables WHERE graph_id = ?`, graphID); err != nil {
		return nil, fmt.Errorf("清空变量失败: %w", err)
	}
	if err := insertVariables(ctx, tx, graphID, content.Variables); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isVariableUniqueViolation(err) {
			return nil, fmt.Errorf("%w: graph %s", ErrDuplicateVariable, graphID)
		}
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}

	return s.GetGraphByID(ctx, graphID)
}

// ForceReplaceVariables 对指定故事图执行字段级强制替换
// 返回匹配的记录数；匹配数为0表示目标文档已被并发删除，调用方不得盲目重试
func (s *Store) ForceReplaceVariables(ctx context.Context, graphID string, content GraphContent) (int64, error) {
	nodesJSON, edgesJSON, err := marshalGraphContent(content)
	if err != nil {
		return 0, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE story_graphs
		    SET start_node_id = ?, nodes = ?, edges = ?,
		        version = version + 1, last_modified_by = ?, updated_at = ?
		  WHERE id = ?`,
		content.StartNodeID, nodesJSON, edgesJSON, content.ModifiedBy, toMillis(now), graphID,
	)
	if err != nil {
		return 0, fmt.Errorf("强制替换失败: %w", err)
	}
	matched, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("读取匹配记录数失败: %w", err)
	}
	if matched == 0 {
		_ = tx.Rollback()
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM story_variables WHERE graph_id = ?`, graphID); err != nil {
		return 0, fmt.Errorf("清空变量失败: %w", err)
	}
	if err := insertVariables(ctx, tx, graphID, content.Variables); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("提交事务失败: %w", err)
	}
	return matched, nil
}

// UnsetThenSetVariables 两步写入回退路径：先清空变量字段，再逐条写入
// 仅在强制替换本身出错时使用
func (s *Store) UnsetThenSetVariables(ctx context.Context, graphID string, variables []models.Variable) error {
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM story_variables WHERE graph_id = ?`, graphID); err != nil {
		return fmt.Errorf("清空变量失败: %w", err)
	}

	for i, v := range variables {
		initJSON, err := json.Marshal(v.InitialValue)
		if err != nil {
			return fmt.Errorf("序列化变量初始值失败: %w", err)
		}
		_, err = s.sqlDB.ExecContext(ctx,
			`INSERT INTO story_variables (
			   graph_id, variable_id, name, data_type, initial_value,
			   description, is_visible, sort_order
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			graphID, v.VariableID, v.Name, v.DataType, string(initJSON),
			v.Description, boolToInt(v.IsVisible), i,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateVariable, v.VariableID)
			}
			return fmt.Errorf("写入变量 %s 失败: %w", v.VariableID, err)
		}
	}
	return nil
}

// DeactivateGraph 停用章节的活跃故事图（章节删除时调用，不做物理删除）
func (s *Store) DeactivateGraph(ctx context.Context, novelID, episodeID string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE story_graphs SET is_active = 0, updated_at = ?
		  WHERE novel_id = ? AND episode_id = ? AND is_active = 1`,
		toMillis(time.Now().UTC()), novelID, episodeID,
	)
	if err != nil {
		return fmt.Errorf("停用故事图失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取匹配记录数失败: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanGraph(ctx context.Context, row *sql.Row) (*models.StoryGraph, error) {
	var g models.StoryGraph
	var nodesJSON, edgesJSON string
	var isActive int
	var createdAt, updatedAt int64

	err := row.Scan(&g.ID, &g.NovelID, &g.EpisodeID, &g.Version, &g.StartNodeID,
		&nodesJSON, &edgesJSON, &g.LastModifiedBy, &isActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取故事图失败: %w", err)
	}

	if err := json.Unmarshal([]byte(nodesJSON), &g.Nodes); err != nil {
		return nil, fmt.Errorf("解析节点数据失败: %w", err)
	}
	if err := json.Unmarshal([]byte(edgesJSON), &g.Edges); err != nil {
		return nil, fmt.Errorf("解析连接数据失败: %w", err)
	}

	g.IsActive = isActive == 1
	g.CreatedAt = fromMillis(createdAt)
	g.UpdatedAt = fromMillis(updatedAt)

	variables, err := s.loadVariables(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	g.Variables = variables

	return &g, nil
}

func (s *Store) loadVariables(ctx context.Context, graphID string) ([]models.Variable, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT variable_id, name, data_type, initial_value, description, is_visible, sort_order
		   FROM story_variables
		  WHERE graph_id = ?
		  ORDER BY sort_order, name`,
		graphID,
	)
	if err != nil {
		return nil, fmt.Errorf("读取变量失败: %w", err)
	}
	defer rows.Close()

	variables := make([]models.Variable, 0)
	for rows.Next() {
		var v models.Variable
		var initJSON string
		var isVisible int
		if err := rows.Scan(&v.VariableID, &v.Name, &v.DataType, &initJSON,
			&v.Description, &isVisible, &v.SortOrder); err != nil {
			return nil, fmt.Errorf("解析变量失败: %w", err)
		}
		if err := json.Unmarshal([]byte(initJSON), &v.InitialValue); err != nil {
			return nil, fmt.Errorf("解析变量初始值失败: %w", err)
		}
		v.IsVisible = isVisible == 1
		variables = append(variables, v)
	}
	return variables, rows.Err()
}

func insertVariables(ctx context.Context, tx *sql.Tx, graphID string, variables []models.Variable) error {
	for i, v := range variables {
		initJSON, err := json.Marshal(v.InitialValue)
		if err != nil {
			return fmt.Errorf("序列化变量初始值失败: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO story_variables (
			   graph_id, variable_id, name, data_type, initial_value,
			   description, is_visible, sort_order
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			graphID, v.VariableID, v.Name, v.DataType, string(initJSON),
			v.Description, boolToInt(v.IsVisible), i,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateVariable, v.VariableID)
			}
			return fmt.Errorf("写入变量 %s 失败: %w", v.VariableID, err)
		}
	}
	return nil
}

func marshalGraphContent(content GraphContent) (nodesJSON, edgesJSON string, err error) {
	nodes := content.Nodes
	if nodes == nil {
		nodes = []models.Node{}
	}
	edges := content.Edges
	if edges == nil {
		edges = []models.Edge{}
	}
	nb, err := json.Marshal(nodes)
	if err != nil {
		return "", "", fmt.Errorf("序列化节点失败: %w", err)
	}
	eb, err := json.Marshal(edges)
	if err != nil {
		return "", "", fmt.Errorf("序列化连接失败: %w", err)
	}
	return string(nb), string(eb), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
