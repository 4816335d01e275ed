package evaluator

import (
	"wisefido-session/internal/models"

	"go.uber.org/zap"
)

// SessionEvaluator 疗程完成评估器
// 只处理 Tick 检测到的 running→stopped 边沿，不在每个 tick
// 重新判断静态条件，因此每个疗程至多触发一次。
type SessionEvaluator struct {
	logger *zap.Logger
}

// NewSessionEvaluator 创建疗程完成评估器
func NewSessionEvaluator(logger *zap.Logger) *SessionEvaluator {
	return &SessionEvaluator{logger: logger}
}

// OnComplete 为越过疗程目标并已停表的病人合成 session 提醒
// 提醒创建时即为已触发状态（跳过 Pending），阈值取疗程目标，
// 触发时间取当前看板时钟。
func (e *SessionEvaluator) OnComplete(patient models.Patient, currentTime int) models.Alert {
	lastTriggered := currentTime
	alert := models.Alert{
		ID:              models.NewLocalID(),
		PatientID:       patient.ID,
		Type:            models.AlertSession,
		TriggerAt:       patient.SessionDuration,
		Triggered:       true,
		Dismissed:       false,
		LastTriggeredAt: &lastTriggered,
	}

	e.logger.Info("Session complete",
		zap.Int("patient_id", patient.ID),
		zap.String("bed", patient.Bed),
		zap.Int("time_elapsed", patient.TimeElapsed),
		zap.Int("session_duration", patient.SessionDuration),
	)

	return alert
}
