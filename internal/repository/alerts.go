package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"wisefido-session/internal/models"

	"go.uber.org/zap"
)

// AlertRepository 提醒仓库（对应 alerts 表）
// local- 前缀的ID从未写入后端，对应的更新/删除直接按成功处理。
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository 创建提醒仓库
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// GetAlerts 获取全部提醒
func (r *AlertRepository) GetAlerts(ctx context.Context) ([]models.Alert, error) {
	query := `
		SELECT
			id,
			patient_id,
			type,
			trigger_at,
			triggered,
			dismissed,
			last_triggered_at
		FROM alerts
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		var a models.Alert
		var lastTriggeredAt sql.NullInt64

		err := rows.Scan(
			&a.ID,
			&a.PatientID,
			&a.Type,
			&a.TriggerAt,
			&a.Triggered,
			&a.Dismissed,
			&lastTriggeredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		if lastTriggeredAt.Valid {
			v := int(lastTriggeredAt.Int64)
			a.LastTriggeredAt = &v
		}

		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}

// CreateAlert 创建提醒，返回服务端分配的ID
// 插入时不带本地ID，ID由后端生成。
func (r *AlertRepository) CreateAlert(ctx context.Context, alert *models.Alert) (string, error) {
	if alert == nil {
		return "", fmt.Errorf("alert is required")
	}
	if alert.PatientID <= 0 {
		return "", fmt.Errorf("patient_id is required")
	}
	if alert.Type == "" {
		return "", fmt.Errorf("type is required")
	}

	query := `
		INSERT INTO alerts (
			patient_id,
			type,
			trigger_at,
			triggered,
			dismissed,
			last_triggered_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		RETURNING id
	`

	var lastTriggeredAt sql.NullInt64
	if alert.LastTriggeredAt != nil {
		lastTriggeredAt = sql.NullInt64{Int64: int64(*alert.LastTriggeredAt), Valid: true}
	}

	var serverID string
	err := r.db.QueryRowContext(ctx, query,
		alert.PatientID,
		alert.Type,
		alert.TriggerAt,
		alert.Triggered,
		alert.Dismissed,
		lastTriggeredAt,
	).Scan(&serverID)

	if err != nil {
		if isAccessDenied(err) {
			return "", fmt.Errorf("create alert: %w", ErrAccessDenied)
		}
		return "", fmt.Errorf("failed to create alert: %w", err)
	}

	return serverID, nil
}

// UpdateAlert 更新提醒（支持部分更新）
// 本地ID直接按成功返回（后端没有这条记录）。
func (r *AlertRepository) UpdateAlert(ctx context.Context, id string, updates map[string]interface{}) error {
	if id == "" {
		return fmt.Errorf("alert id is required")
	}
	if models.IsLocalID(id) {
		r.logger.Debug("Skipping update for local-only alert",
			zap.String("alert_id", id),
		)
		return nil
	}
	if len(updates) == 0 {
		return fmt.Errorf("updates cannot be empty")
	}

	// 允许更新的字段
	allowedFields := map[string]bool{
		"triggered":         true,
		"dismissed":         true,
		"last_triggered_at": true,
	}

	setParts := []string{}
	args := []interface{}{}
	argN := 1

	for field, value := range updates {
		if !allowedFields[field] {
			return fmt.Errorf("field '%s' is not allowed to update", field)
		}
		setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argN))
		args = append(args, value)
		argN++
	}

	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE alerts
		SET %s
		WHERE id = $%d
	`, strings.Join(setParts, ", "), argN)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isAccessDenied(err) {
			return fmt.Errorf("update alert %s: %w", id, ErrAccessDenied)
		}
		return fmt.Errorf("failed to update alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found: id=%s", id)
	}

	return nil
}

// DeleteAlert 删除提醒
// 本地ID直接按成功返回（后端没有这条记录）。
func (r *AlertRepository) DeleteAlert(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("alert id is required")
	}
	if models.IsLocalID(id) {
		r.logger.Debug("Skipping delete for local-only alert",
			zap.String("alert_id", id),
		)
		return nil
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		if isAccessDenied(err) {
			return fmt.Errorf("delete alert %s: %w", id, ErrAccessDenied)
		}
		return fmt.Errorf("failed to delete alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// 已被其他设备删除，不视为错误
		r.logger.Debug("Alert already deleted",
			zap.String("alert_id", id),
		)
	}

	return nil
}
