package models

import (
	"strings"

	"github.com/google/uuid"
)

// AlertType 提醒类型
type AlertType string

const (
	AlertNeedles AlertType = "needles" // 换针提醒
	AlertPulse   AlertType = "pulse"   // 查脉提醒
	AlertSession AlertType = "session" // 疗程结束提醒
)

// LocalIDPrefix 本地提醒ID前缀（尚未写入后端的提醒）
const LocalIDPrefix = "local-"

// Alert 提醒（对应 alerts 表）
// 状态机：Pending（未触发未确认）→ Triggered（已触发未确认）→ Dismissed（终态）。
// session 类提醒创建时即为 Triggered，跳过 Pending。
type Alert struct {
	ID              string    `json:"id" db:"id"`
	PatientID       int       `json:"patient_id" db:"patient_id"`
	Type            AlertType `json:"type" db:"type"`
	TriggerAt       int       `json:"trigger_at" db:"trigger_at"` // 触发阈值（疗程已计秒数）
	Triggered       bool      `json:"triggered" db:"triggered"`
	Dismissed       bool      `json:"dismissed" db:"dismissed"`
	LastTriggeredAt *int      `json:"last_triggered_at,omitempty" db:"last_triggered_at"` // 最近一次触发时的看板时钟秒数
}

// NewLocalID 生成本地提醒ID
func NewLocalID() string {
	return LocalIDPrefix + uuid.New().String()
}

// IsLocalID 是否为本地提醒ID
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// IsLocal 提醒是否尚未写入后端
func (a *Alert) IsLocal() bool {
	return IsLocalID(a.ID)
}

// Active 提醒是否处于已触发未确认状态
func (a *Alert) Active() bool {
	return a.Triggered && !a.Dismissed
}

// Pending 提醒是否处于未触发未确认状态
func (a *Alert) Pending() bool {
	return !a.Triggered && !a.Dismissed
}

// AlertKey 提醒去重键
// 本地提醒与后端提醒在 (patient_id, type, trigger_at) 三元组一致时视为同一条。
type AlertKey struct {
	PatientID int
	Type      AlertType
	TriggerAt int
}

// Key 返回提醒的去重键
func (a *Alert) Key() AlertKey {
	return AlertKey{
		PatientID: a.PatientID,
		Type:      a.Type,
		TriggerAt: a.TriggerAt,
	}
}
