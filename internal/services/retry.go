// internal/services/retry.go
package services

import (
	"time"
)

// RetryPolicy 描述写后读校验的重试策略
// 纯数据结构，不含任何 I/O，等待由调用方执行
type RetryPolicy struct {
	MaxAttempts int           // 总尝试次数（含首次）
	Backoff     time.Duration // 首次重试前的等待，之后每次翻倍
}

// DefaultRetryPolicy 返回保存校验的默认重试策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 50 * time.Millisecond}
}

// NextWait 返回第 attempt 次尝试失败后的等待时长
// attempt 从1开始计数；返回 false 表示尝试次数已用尽，调用方应升级错误
func (p RetryPolicy) NextWait(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	wait := p.Backoff
	for i := 1; i < attempt; i++ {
		wait *= 2
	}
	return wait, true
}
