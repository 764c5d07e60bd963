// Package factory 按角色配置中的 provider 名称创建 llm.Provider，
// 打破 llm 包与各 provider 子包之间的循环依赖。
package factory
