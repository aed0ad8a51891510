// Package migrations 内嵌 MySQL 任务表的建表与变更脚本。
package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
