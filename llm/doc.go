// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供本地大语言模型的统一接入层。

# 核心接口

  - [Provider]：Completion / Stream / HealthCheck / Name
  - [Error]：带错误码与可重试标记的结构化错误

# 子包

  - providers/ollama：Ollama 原生 /api/chat（NDJSON 流）
  - providers/openaicompat：OpenAI 兼容接口（LM Studio、llama.cpp server、vLLM）
  - factory：按角色配置中的 provider 名称创建实例
  - retry：指数退避重试
  - tokenizer：token 计数（tiktoken 与估算器）
*/
package llm
