// Package api 暴露任务提交与查询的 REST 接口，以及健康检查、链路由表和
// Prometheus 指标端点。
package api
