package notify

import (
	"wisefido-session/internal/models"

	"go.uber.org/zap"
)

// Notification 通知内容
type Notification struct {
	Kind        models.AlertType
	PatientName string
	PatientBed  string
	Elapsed     string // 已计时间 mm:ss
	// Reannounce 为 true 表示重播：只发声音和横幅，不发原生推送
	Reannounce bool
}

// Title 通知标题
func (n Notification) Title() string {
	switch n.Kind {
	case models.AlertNeedles:
		return "Alert: Change Needles"
	case models.AlertPulse:
		return "Alert: Check Pulse"
	case models.AlertSession:
		return "Session Complete"
	default:
		return "Alert"
	}
}

// Body 通知正文
func (n Notification) Body() string {
	if n.Kind == models.AlertSession {
		return n.PatientName + " (" + n.PatientBed + ") - session complete"
	}
	return n.PatientName + " (" + n.PatientBed + ") - " + n.Elapsed
}

// Channel 通知通道
// 每个通道独立尽力而为：一个通道失败（如声音被平台策略拦截）
// 不得影响其余通道。
type Channel interface {
	Name() string
	Send(n Notification) error
}

// Dispatcher 通知分发器
// 按顺序调用全部通道，失败只记日志，从不向调用方传播。
type Dispatcher struct {
	logger   *zap.Logger
	channels []Channel
}

// NewDispatcher 创建通知分发器
func NewDispatcher(logger *zap.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		channels: channels,
	}
}

// Dispatch 分发一次通知
func (d *Dispatcher) Dispatch(n Notification) {
	for _, ch := range d.channels {
		if err := ch.Send(n); err != nil {
			d.logger.Warn("Notification channel failed",
				zap.String("channel", ch.Name()),
				zap.String("kind", string(n.Kind)),
				zap.Error(err),
			)
		}
	}
}
