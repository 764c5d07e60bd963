// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
aichatter 在本地 LLM 上运行多角色轮流对话，终端实时输出并保存带时间戳的会话记录。

使用方法:

	aichatter --theme "猫と犬"                       # 运行一次会话
	aichatter run --theme "猫と犬" --max-turns 10    # 同上，限制轮数
	aichatter validate                               # 校验角色配置并打印
	aichatter check                                  # 探测所有推理服务
	aichatter history [session-id]                   # 查看归档会话
	aichatter version                                # 显示版本信息
*/
package main
