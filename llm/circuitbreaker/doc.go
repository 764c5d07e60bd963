// Package circuitbreaker 为单个推理端点提供熔断：连续失败达到阈值后打开，
// 冷却期内直接拒绝调用，冷却结束后放行一次试探请求。
package circuitbreaker
