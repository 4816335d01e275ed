package store

import (
	"sort"

	"wisefido-session/internal/models"

	"go.uber.org/zap"
)

// AlertStore 提醒内存库
// 本地新增的提醒立即可见（local- 前缀ID），与异步到达的远端快照
// 按 (patient_id, type, trigger_at) 三元组去重合并。
// 仅允许事件循环单线程访问，不加锁。
type AlertStore struct {
	logger *zap.Logger
	alerts []models.Alert
}

// NewAlertStore 创建提醒内存库
func NewAlertStore(logger *zap.Logger) *AlertStore {
	return &AlertStore{logger: logger}
}

// Load 全量替换提醒列表（初始加载）
func (s *AlertStore) Load(alerts []models.Alert) {
	s.alerts = make([]models.Alert, len(alerts))
	copy(s.alerts, alerts)
}

// Snapshot 返回当前提醒列表的副本
func (s *AlertStore) Snapshot() []models.Alert {
	out := make([]models.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Get 按ID查找提醒
func (s *AlertStore) Get(id string) (models.Alert, bool) {
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			return s.alerts[i], true
		}
	}
	return models.Alert{}, false
}

// ApplyLocalAdd 本地追加提醒
// ID 为空时生成 local- 前缀ID。后端可达与否都立即可见。
func (s *AlertStore) ApplyLocalAdd(alert models.Alert) models.Alert {
	if alert.ID == "" {
		alert.ID = models.NewLocalID()
	}
	s.alerts = append(s.alerts, alert)
	return alert
}

// ApplyRemoteSnapshot 合入远端快照
// 非 local- 前缀的提醒整体替换为远端列表；local- 前缀的提醒
// 仅在远端列表中不存在相同三元组时保留（尚未完成往返）。
func (s *AlertStore) ApplyRemoteSnapshot(remote []models.Alert) {
	remoteKeys := make(map[models.AlertKey]bool, len(remote))
	for i := range remote {
		remoteKeys[remote[i].Key()] = true
	}

	merged := make([]models.Alert, len(remote))
	copy(merged, remote)

	for i := range s.alerts {
		a := s.alerts[i]
		if a.IsLocal() && !remoteKeys[a.Key()] {
			merged = append(merged, a)
		}
	}

	s.alerts = merged
}

// ReconcileServerID 本地提醒写入后端成功后，原位替换为服务端ID
// 其余字段与列表位置不变。
func (s *AlertStore) ReconcileServerID(localID, serverID string) {
	for i := range s.alerts {
		if s.alerts[i].ID == localID {
			s.alerts[i].ID = serverID
			return
		}
	}
	s.logger.Debug("Local alert already superseded before reconcile",
		zap.String("local_id", localID),
		zap.String("server_id", serverID),
	)
}

// Update 按ID写回变更后的提醒
func (s *AlertStore) Update(alert models.Alert) bool {
	for i := range s.alerts {
		if s.alerts[i].ID == alert.ID {
			s.alerts[i] = alert
			return true
		}
	}
	return false
}

// Dismiss 确认提醒（终态，之后不再重播）
func (s *AlertStore) Dismiss(id string) bool {
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Dismissed = true
			return true
		}
	}
	return false
}

// Remove 删除提醒
func (s *AlertStore) Remove(id string) bool {
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
			return true
		}
	}
	return false
}

// ActiveAlerts 某病人已触发未确认的提醒
func (s *AlertStore) ActiveAlerts(patientID int) []models.Alert {
	var out []models.Alert
	for i := range s.alerts {
		a := s.alerts[i]
		if a.PatientID == patientID && a.Active() {
			out = append(out, a)
		}
	}
	return out
}

// PendingAlerts 某病人某类型未触发未确认的提醒，按触发阈值升序
func (s *AlertStore) PendingAlerts(patientID int, typ models.AlertType) []models.Alert {
	var out []models.Alert
	for i := range s.alerts {
		a := s.alerts[i]
		if a.PatientID == patientID && a.Type == typ && a.Pending() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TriggerAt < out[j].TriggerAt
	})
	return out
}
