// internal/storage/scene_store.go
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

// PutScene 写入或更新场景内容
func (s *Store) PutScene(ctx context.Context, scene models.Scene) error {
	if scene.SceneID == "" {
		return fmt.Errorf("场景ID不能为空")
	}
	scene.LastUpdated = time.Now().UTC()
	payload, err := json.Marshal(scene)
	if err != nil {
		return fmt.Errorf("序列化场景失败: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO scenes (novel_id, episode_id, scene_id, payload, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (novel_id, episode_id, scene_id) DO UPDATE SET
		   payload = excluded.payload,
		   updated_at = excluded.updated_at`,
		scene.NovelID, scene.EpisodeID, scene.SceneID, string(payload),
		toMillis(scene.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("写入场景失败: %w", err)
	}
	return nil
}

// GetScene 读取场景内容
func (s *Store) GetScene(ctx context.Context, novelID, episodeID, sceneID string) (*models.Scene, error) {
	var payload string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT payload FROM scenes
		  WHERE novel_id = ? AND episode_id = ? AND scene_id = ?`,
		novelID, episodeID, sceneID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取场景失败: %w", err)
	}

	var scene models.Scene
	if err := json.Unmarshal([]byte(payload), &scene); err != nil {
		return nil, fmt.Errorf("解析场景失败: %w", err)
	}
	return &scene, nil
}
