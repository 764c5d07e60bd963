// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理会话期间暴露 Prometheus 指标的 HTTP 服务。

  - Manager：非阻塞启动、优雅关闭，异步错误通过 Errors() 传出
  - NewMux：挂载 /metrics 与 /healthz

监听地址为 ":0" 时 Addr() 返回实际端口。
*/
package server
