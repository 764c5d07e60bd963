// Package feed 把会话记录实时推送到 Redis Stream。
// 每条记录 XADD 到 <prefix>:<session id>，结束时追加 end 事件并保存完整快照，
// 外部看板可以用 XREAD 跟随会话。
package feed
