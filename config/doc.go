// Package config 提供 aichatter 的运行设置。
//
// 设置与角色配置分开：角色与环境由 cast 包读取，
// 这里只管会话策略、LLM 调用、输出、日志、指标、遥测、实时推送与归档。
// 加载顺序为 默认值 → YAML 文件 → AICHATTER_ 前缀的环境变量 → 校验器。
package config
