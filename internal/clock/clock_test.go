package clock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeNow 可手动拨动的假时钟
type fakeNow struct {
	t time.Time
}

func (f *fakeNow) now() time.Time {
	return f.t
}

func (f *fakeNow) advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func TestAdvance_BelowOneSecond(t *testing.T) {
	fake := &fakeNow{t: time.Unix(1000, 0)}
	c := New(fake.now)

	fake.advance(999 * time.Millisecond)
	assert.Equal(t, 0, c.Advance())
	assert.Equal(t, 0, c.CurrentTime())
}

func TestAdvance_WholeSeconds(t *testing.T) {
	fake := &fakeNow{t: time.Unix(1000, 0)}
	c := New(fake.now)

	fake.advance(1 * time.Second)
	assert.Equal(t, 1, c.Advance())
	assert.Equal(t, 1, c.CurrentTime())

	fake.advance(3 * time.Second)
	assert.Equal(t, 3, c.Advance())
	assert.Equal(t, 4, c.CurrentTime())
}

func TestAdvance_SubSecondRemainderCarriesOver(t *testing.T) {
	fake := &fakeNow{t: time.Unix(1000, 0)}
	c := New(fake.now)

	// 1.7 秒只推进 1 秒，余下 0.7 秒留在基准时间戳里
	fake.advance(1700 * time.Millisecond)
	assert.Equal(t, 1, c.Advance())
	assert.Equal(t, 1, c.CurrentTime())

	// 再过 0.3 秒凑满下一整秒
	fake.advance(300 * time.Millisecond)
	assert.Equal(t, 1, c.Advance())
	assert.Equal(t, 2, c.CurrentTime())
}

func TestAdvance_NoSystematicLossUnderJitter(t *testing.T) {
	fake := &fakeNow{t: time.Unix(1000, 0)}
	c := New(fake.now)

	// 不规则调度：600ms 一次轮询，墙钟共经过 60 秒
	total := 0
	for i := 0; i < 100; i++ {
		fake.advance(600 * time.Millisecond)
		total += c.Advance()
	}

	assert.Equal(t, 60, total)
	assert.Equal(t, 60, c.CurrentTime())
}

func TestAdvance_AfterSuspension(t *testing.T) {
	fake := &fakeNow{t: time.Unix(1000, 0)}
	c := New(fake.now)

	// 后台挂起 90 秒后一次性补齐
	fake.advance(90 * time.Second)
	assert.Equal(t, 90, c.Advance())
	assert.Equal(t, 90, c.CurrentTime())
}

func TestNew_NilNowDefaultsToTimeNow(t *testing.T) {
	c := New(nil)
	assert.NotNil(t, c)
	assert.Equal(t, 0, c.CurrentTime())
}

// 时钟协程与消费协程并发运行：消费方只读回调携带的快照，
// 不触碰时钟内部状态（-race 下验证）。
func TestRun_ConsumerSeesConsistentSnapshots(t *testing.T) {
	var offset atomic.Int64
	base := time.Unix(1000, 0)
	c := New(func() time.Time { return base.Add(time.Duration(offset.Load())) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type snap struct{ seconds, currentTime int }
	ticks := make(chan snap, 64)
	go c.Run(ctx, time.Millisecond, func(secondsElapsed, currentTime int) {
		ticks <- snap{seconds: secondsElapsed, currentTime: currentTime}
	})

	// 另一个协程拨动假墙钟，共 20 秒
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			offset.Add(int64(500 * time.Millisecond))
			time.Sleep(2 * time.Millisecond)
		}
	}()

	// 每次回调的累计秒数必须恰好等于此前各次推进秒数之和
	total := 0
	timeout := time.After(5 * time.Second)
	for total < 20 {
		select {
		case tk := <-ticks:
			total += tk.seconds
			assert.Equal(t, total, tk.currentTime)
		case <-timeout:
			t.Fatalf("clock loop stalled, accumulated %d of 20 seconds", total)
		}
	}
	<-done
}
