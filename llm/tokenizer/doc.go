// Package tokenizer 为会话历史窗口提供 token 计数。
// 本地模型没有统一的分词器，默认使用区分 CJK/假名 的估算器；
// 需要更接近 OpenAI 系模型的计数时可选 tiktoken（cl100k_base / o200k_base）。
package tokenizer
