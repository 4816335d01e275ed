package clock

import (
	"context"
	"time"
)

// Clock 漂移校正时钟
// 基于墙钟差值推进，而非固定周期定时器：轮询可能被节流或挂起，
// 每次推进按实际经过的整秒数计算，last tick 时间戳只前移整秒部分，
// 亚秒余量留到下一次，避免长期累积丢失时间。
// 内部状态只归 Run 所在协程所有：消费方通过 onTick 回调参数拿到
// 推进后的秒数，不直接读时钟字段。
type Clock struct {
	now         func() time.Time
	currentTime int       // 看板启动以来的秒数
	lastTick    time.Time // 上一次推进的基准时间戳
}

// New 创建时钟
// now 为 nil 时使用 time.Now（测试时可注入假时钟）。
func New(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	c := &Clock{now: now}
	c.lastTick = c.now()
	return c
}

// CurrentTime 返回看板启动以来的秒数
// 与 Advance 一样只能在时钟所属协程里调用。
func (c *Clock) CurrentTime() int {
	return c.currentTime
}

// Advance 按墙钟差值推进时钟
// 不足 1 秒时返回 0。返回值 ≥1 时，lastTick 恰好前移 secondsElapsed 秒，
// 余下的亚秒差值留待下一次推进。
func (c *Clock) Advance() int {
	now := c.now()
	delta := now.Sub(c.lastTick)
	if delta < time.Second {
		return 0
	}

	secondsElapsed := int(delta / time.Second)
	c.lastTick = c.lastTick.Add(time.Duration(secondsElapsed) * time.Second)
	c.currentTime += secondsElapsed

	return secondsElapsed
}

// Run 启动时钟循环
// 以亚秒间隔轮询，累计满 1 秒才调用 onTick，回调携带本次推进的
// 秒数与推进后的累计秒数（同一次 Advance 的一致快照）。
// ctx 取消后返回。
func (c *Clock) Run(ctx context.Context, pollInterval time.Duration, onTick func(secondsElapsed, currentTime int)) {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if secondsElapsed := c.Advance(); secondsElapsed >= 1 {
				onTick(secondsElapsed, c.currentTime)
			}
		}
	}
}
