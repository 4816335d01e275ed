package evaluator

import (
	"wisefido-session/internal/models"

	"go.uber.org/zap"
)

// Firing 一次提醒触发决定
type Firing struct {
	Alert models.Alert
	// Reannounce 为 true 表示已触发未确认提醒的周期性重播
	//（重播路径不发原生推送，避免推送刷屏）
	Reannounce bool
}

// EvalResult 一次评估的结果
type EvalResult struct {
	// Changed 本次评估中状态发生变化的提醒（只写回这些，
	// 避免多余的重渲染和后端写入）
	Changed []models.Alert
	// Firings 需要交给通知分发器的触发决定
	Firings []Firing
}

// AlertEvaluator 提醒状态机评估器
// 每个 tick 针对同一份 (patients, currentTime) 快照评估全部提醒：
//   Pending → Triggered：病人计时中且 elapsed 达到阈值
//   Triggered → Triggered：未确认且距上次触发满重播间隔
//   Dismissed 为终态，只由用户操作进入，时间不驱动
type AlertEvaluator struct {
	logger            *zap.Logger
	reannounceSeconds int
}

// NewAlertEvaluator 创建提醒状态机评估器
// reannounceSeconds 为未确认提醒的重播间隔（秒）。
func NewAlertEvaluator(logger *zap.Logger, reannounceSeconds int) *AlertEvaluator {
	if reannounceSeconds <= 0 {
		reannounceSeconds = 5
	}
	return &AlertEvaluator{
		logger:            logger,
		reannounceSeconds: reannounceSeconds,
	}
}

// Evaluate 评估一次提醒状态机
func (e *AlertEvaluator) Evaluate(alerts []models.Alert, patients []models.Patient, currentTime int) EvalResult {
	byID := make(map[int]models.Patient, len(patients))
	for i := range patients {
		byID[patients[i].ID] = patients[i]
	}

	var result EvalResult

	for i := range alerts {
		alert := alerts[i]

		switch {
		case alert.Pending():
			patient, ok := byID[alert.PatientID]
			if !ok {
				continue
			}
			if patient.TimerRunning && patient.TimeElapsed >= alert.TriggerAt {
				last := currentTime
				alert.Triggered = true
				alert.LastTriggeredAt = &last

				result.Changed = append(result.Changed, alert)
				result.Firings = append(result.Firings, Firing{Alert: alert})

				e.logger.Info("Alert triggered",
					zap.String("alert_id", alert.ID),
					zap.Int("patient_id", alert.PatientID),
					zap.String("type", string(alert.Type)),
					zap.Int("trigger_at", alert.TriggerAt),
				)
			}

		case alert.Active() && alert.LastTriggeredAt != nil:
			if currentTime-*alert.LastTriggeredAt >= e.reannounceSeconds {
				last := currentTime
				alert.LastTriggeredAt = &last

				result.Changed = append(result.Changed, alert)
				result.Firings = append(result.Firings, Firing{Alert: alert, Reannounce: true})

				e.logger.Debug("Alert reannounced",
					zap.String("alert_id", alert.ID),
					zap.Int("patient_id", alert.PatientID),
					zap.String("type", string(alert.Type)),
				)
			}
		}
	}

	return result
}
