// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cast 负责加载并校验对话的登场角色与场景环境。

# 配置来源

  - 旧版 Markdown 配置：单个文件包含 "# Environment" 与 "# Characters" 两节，
    每个 "## 名称" 下用 "- key: value" 描述角色
  - 头像目录：每个 *.json / *.yaml 文件描述一个角色，环境另存为 Markdown 文件

# 校验

Validate 在任何连接器调用之前收集全部问题（缺失字段、重复 handle、
多个议长、温度越界等），统一以 ErrInvalidConfig 包装返回。
*/
package cast
