// internal/storage/episode_store.go
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

// UpsertEpisode 写入或更新章节摘要
func (s *Store) UpsertEpisode(ctx context.Context, e models.Episode) error {
	coAuthors, err := json.Marshal(e.CoAuthorIDs)
	if err != nil {
		return fmt.Errorf("序列化协作者列表失败: %w", err)
	}
	now := time.Now().UTC()
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO episodes (novel_id, episode_id, title, author_id, co_author_ids, is_free, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (novel_id, episode_id) DO UPDATE SET
		   title = excluded.title,
		   author_id = excluded.author_id,
		   co_author_ids = excluded.co_author_ids,
		   is_free = excluded.is_free,
		   updated_at = excluded.updated_at`,
		e.NovelID, e.EpisodeID, e.Title, e.AuthorID, string(coAuthors),
		boolToInt(e.IsFree), toMillis(createdAt), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("写入章节失败: %w", err)
	}
	return nil
}

// GetEpisode 读取章节摘要
func (s *Store) GetEpisode(ctx context.Context, novelID, episodeID string) (*models.Episode, error) {
	var e models.Episode
	var coAuthors string
	var isFree int
	var createdAt, updatedAt int64

	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT novel_id, episode_id, title, author_id, co_author_ids, is_free, created_at, updated_at
		   FROM episodes
		  WHERE novel_id = ? AND episode_id = ?`,
		novelID, episodeID,
	).Scan(&e.NovelID, &e.EpisodeID, &e.Title, &e.AuthorID, &coAuthors, &isFree, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取章节失败: %w", err)
	}

	if err := json.Unmarshal([]byte(coAuthors), &e.CoAuthorIDs); err != nil {
		return nil, fmt.Errorf("解析协作者列表失败: %w", err)
	}
	e.IsFree = isFree == 1
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return &e, nil
}
