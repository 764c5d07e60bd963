// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 transcript 保存一次会话的有序记录，并把它交给各个输出端。

# 核心类型

  - [Transcript]：只追加的条目序列，序号从 1 连续递增
  - [Entry]：一条记录，Kind 区分开场、发言、点名与通知
  - [Sink]：记录消费者，逐条 Record，结束时 Flush

# 输出端

  - [FileSink]：写 <dir>/<YYYYMMDDHHMMSS>.md，可选同名 .json
  - [Console]：终端渲染，支持逐字流式输出
  - [MultiSink]：扇出到多个 Sink
*/
package transcript
