// internal/storage/store.go
// Package storage 提供故事图与场景的SQLite持久化
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Corvane/StoryWeaver/internal/storage/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound 表示记录不存在
	ErrNotFound = errors.New("记录不存在")
	// ErrDuplicateVariable 表示变量身份或名称触发了存储层唯一约束
	ErrDuplicateVariable = errors.New("变量唯一约束冲突")
	// ErrDuplicateGraph 表示同一章节已存在活跃故事图
	ErrDuplicateGraph = errors.New("故事图唯一约束冲突")
)

// Store 基于SQLite持久化故事图、变量、章节与场景
type Store struct {
	sqlDB *sql.DB
}

// Open 打开存储并应用内嵌迁移
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("存储路径不能为空")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开SQLite失败: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("连接SQLite失败: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("执行迁移失败: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// isUniqueViolation 判断错误是否为唯一约束冲突
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// isVariableUniqueViolation 判断是否为变量表上的唯一约束冲突
func isVariableUniqueViolation(err error) bool {
	if !isUniqueViolation(err) {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "story_variables")
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
