/*
包 connector 把一次角色发言变成一次 LLM 调用。

会话只依赖最小接口 [Connector]：给出角色的 provider、host、模型、温度
以及 system/user 两段提示，返回整理后的回复文本。[LLMConnector] 基于
llm/factory 创建的 Provider 实现该接口，并负责单轮超时、指数退避重试、
Prometheus 指标与 OpenTelemetry span。

流式模式下，一旦有文本通过 OnDelta 输出，后续失败不再重试，
避免控制台出现重复内容。

[Preflight] 在会话开始前并发检查所有不同的端点。
*/
package connector
