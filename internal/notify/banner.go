package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisPublisher Redis 发布接口（由 go-redis 客户端实现）
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// bannerPayload 看板横幅内容
type bannerPayload struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Kind        string `json:"kind"`
	Dismissable bool   `json:"dismissable"`
}

// BannerChannel 看板内横幅通道
// 横幅事件发布到 Redis 频道，由各看板设备订阅渲染（可手动关闭）。
type BannerChannel struct {
	publisher RedisPublisher
	channel   string
}

// NewBannerChannel 创建横幅通道
func NewBannerChannel(publisher RedisPublisher, channel string) *BannerChannel {
	return &BannerChannel{
		publisher: publisher,
		channel:   channel,
	}
}

// Name 通道名称
func (c *BannerChannel) Name() string {
	return "banner"
}

// SendText 发布系统横幅（离线提示、写入失败提示等）
func (c *BannerChannel) SendText(title, body string) error {
	payload := bannerPayload{
		Title:       title,
		Body:        body,
		Kind:        "system",
		Dismissable: true,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal banner payload: %w", err)
	}

	if err := c.publisher.Publish(context.Background(), c.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish banner: %w", err)
	}

	return nil
}

// Send 发布横幅事件
func (c *BannerChannel) Send(n Notification) error {
	payload := bannerPayload{
		Title:       n.Title(),
		Body:        n.Body(),
		Kind:        string(n.Kind),
		Dismissable: true,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal banner payload: %w", err)
	}

	if err := c.publisher.Publish(context.Background(), c.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish banner: %w", err)
	}

	return nil
}
