// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 conversation 实现轮流发言的会话循环。

# 流程

议长先宣布主题，之后每一轮：等待节奏限速 → 检查时间预算与轮数上限 →
选择发言人 → 生成提示并调用 connector → 记录结果。正在进行的一轮
不会因时间预算被打断。

# 发言人选择

  - directed（默认）：被上一句 @ 点名或被议长催促的角色优先；
    否则在除上一位发言人之外的角色中伪随机选择。种子来自设置，
    为 0 时由主题与 handle 的 xxhash 派生，相同输入得到相同顺序。
  - round_robin：按声明顺序轮转，从议长之后的角色开始。

# 议长台词

回复过短时（directed 模式）议长点名一名非议长角色；连接失败时议长
发出通知。两者都作为条目写入会话记录。
*/
package conversation
