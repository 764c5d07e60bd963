// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的会话指标采集。

# 概述

Collector 持有独立的 Registry，不污染全局默认注册表，
通过 Handler 暴露给 --metrics-addr 指定的 HTTP 端口。
所有记录方法对 nil 接收者安全，未启用指标时直接传 nil。

# 指标

  - LLM：请求总数（provider/model/status）、请求耗时、Token 用量、重试次数
  - 会话：轮次结果（speaker/outcome）、结束原因、会话时长
  - 输出端：Sink 写入失败次数
*/
package metrics
