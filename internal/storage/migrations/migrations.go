// internal/storage/migrations/migrations.go
// Package migrations 内嵌SQL迁移文件
package migrations

import "embed"

// FS 包含全部迁移脚本
//
//go:embed *.sql
var FS embed.FS
