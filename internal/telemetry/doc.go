// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 aichatter 的会话与 LLM 调用提供 TracerProvider 和 MeterProvider。
// 遥测禁用时使用全局 noop 实现，不连接任何外部服务。
package telemetry
