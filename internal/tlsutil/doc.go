// Package tlsutil 集中维护出站连接的 TLS 配置，供推理服务 HTTP 客户端与 Redis 连接共用。
package tlsutil
