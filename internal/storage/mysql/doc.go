// Package mysql 提供 MySQL 连接池与内嵌迁移脚本的执行，任务状态表由
// internal/task.MySQLStore 在此之上读写。
package mysql
