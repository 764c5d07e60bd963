/*
Package testutil 提供 aichatter 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 时间辅助: FakeClock，手动推进的时钟，用于时间预算测试
  - 异步断言: AssertEventuallyTrue / WaitFor
  - 流式辅助: CollectStreamContent / SendChunksToChannel

# 子包

  - testutil/mocks: MockProvider（llm.Provider），支持 Builder 模式与错误注入
  - connector/connectortest: ScriptedConnector（connector.Connector）
  - testutil/fixtures: 预置角色配置、ChatResponse 与 StreamChunk 样例

# 使用示例

	ctx := testutil.TestContext(t)
	conn := connectortest.NewScriptedConnector().Reply("chair", "はじめましょう")
	reply, err := conn.Generate(ctx, connector.Request{Speaker: "chair"})
*/
package testutil
