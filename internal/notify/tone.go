package notify

import (
	"encoding/json"
	"fmt"

	"wisefido-session/internal/models"
)

// Publisher MQTT 发布接口（由 pkg/mqtt 的客户端实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// tonePayload 提示音描述，由看板端合成播放
type tonePayload struct {
	Kind       string  `json:"kind"`
	Frequency  int     `json:"frequency"`
	Gain       float64 `json:"gain"`
	DurationMs int     `json:"duration_ms"`
}

// ToneChannel 提示音通道
// 每种提醒类型对应不同频率。主路径发布失败时（如看板端
// 的播放被手势锁拒绝）改走备用主题。
type ToneChannel struct {
	publisher     Publisher
	topic         string
	fallbackTopic string
	qos           byte
}

// NewToneChannel 创建提示音通道
func NewToneChannel(publisher Publisher, topic, fallbackTopic string, qos byte) *ToneChannel {
	return &ToneChannel{
		publisher:     publisher,
		topic:         topic,
		fallbackTopic: fallbackTopic,
		qos:           qos,
	}
}

// Name 通道名称
func (c *ToneChannel) Name() string {
	return "tone"
}

// Send 发布提示音
func (c *ToneChannel) Send(n Notification) error {
	payload := toneFor(n.Kind)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal tone payload: %w", err)
	}

	if err := c.publisher.Publish(c.topic, c.qos, false, data); err != nil {
		// 备用合成路径
		if c.fallbackTopic == "" {
			return err
		}
		if fbErr := c.publisher.Publish(c.fallbackTopic, c.qos, false, data); fbErr != nil {
			return fmt.Errorf("primary and fallback tone publish failed: %w", fbErr)
		}
	}

	return nil
}

// toneFor 每种提醒类型的音色参数
func toneFor(kind models.AlertType) tonePayload {
	p := tonePayload{Kind: string(kind), DurationMs: 500}
	switch kind {
	case models.AlertNeedles:
		p.Frequency = 600
		p.Gain = 0.2
	case models.AlertPulse:
		p.Frequency = 400
		p.Gain = 0.2
	case models.AlertSession:
		p.Frequency = 800
		p.Gain = 0.3
	default:
		p.Frequency = 600
		p.Gain = 0.2
	}
	return p
}
