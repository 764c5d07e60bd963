// Package ctxkeys 定义跨包传递的 context 键，用于在日志与 span 中关联会话和轮次。
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	turnKey      contextKey = "turn"
)

// WithSessionID 设置会话 ID
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID 获取会话 ID
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithTurn 设置当前轮次（从 1 开始）
func WithTurn(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, turnKey, n)
}

// Turn 获取当前轮次
func Turn(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(turnKey).(int)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}
