package notify

import (
	"encoding/json"
	"fmt"
)

// pushPayload 原生推送内容
type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Kind  string `json:"kind"`
}

// NativeChannel 原生推送通道
// 仅在首次触发且推送权限已授权时发送；重播不推送，避免刷屏。
type NativeChannel struct {
	publisher Publisher
	topic     string
	qos       byte
	granted   bool
}

// NewNativeChannel 创建原生推送通道
func NewNativeChannel(publisher Publisher, topic string, qos byte, granted bool) *NativeChannel {
	return &NativeChannel{
		publisher: publisher,
		topic:     topic,
		qos:       qos,
		granted:   granted,
	}
}

// Name 通道名称
func (c *NativeChannel) Name() string {
	return "native"
}

// Send 发布原生推送
func (c *NativeChannel) Send(n Notification) error {
	if n.Reannounce || !c.granted {
		return nil
	}

	payload := pushPayload{
		Title: n.Title(),
		Body:  n.Body(),
		Kind:  string(n.Kind),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	if err := c.publisher.Publish(c.topic, c.qos, false, data); err != nil {
		return fmt.Errorf("failed to publish native push: %w", err)
	}

	return nil
}
