package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"wisefido-session/internal/models"

	"go.uber.org/zap"
)

// PatientRepository 病人仓库（对应 patients 表）
type PatientRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPatientRepository 创建病人仓库
func NewPatientRepository(db *sql.DB, logger *zap.Logger) *PatientRepository {
	return &PatientRepository{
		db:     db,
		logger: logger,
	}
}

// GetPatients 获取全部病人，按ID升序
func (r *PatientRepository) GetPatients(ctx context.Context) ([]models.Patient, error) {
	query := `
		SELECT
			id,
			name,
			bed,
			timer_running,
			time_elapsed,
			session_duration
		FROM patients
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	patients := []models.Patient{}
	for rows.Next() {
		var p models.Patient
		err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Bed,
			&p.TimerRunning,
			&p.TimeElapsed,
			&p.SessionDuration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		patients = append(patients, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patients: %w", err)
	}

	return patients, nil
}

// UpdatePatient 更新病人（支持部分更新）
// updates 是一个 map，包含要更新的字段
func (r *PatientRepository) UpdatePatient(ctx context.Context, id int, updates map[string]interface{}) error {
	if id <= 0 {
		return fmt.Errorf("patient id is required")
	}
	if len(updates) == 0 {
		return fmt.Errorf("updates cannot be empty")
	}

	// 允许更新的字段
	allowedFields := map[string]bool{
		"name":             true,
		"bed":              true,
		"timer_running":    true,
		"time_elapsed":     true,
		"session_duration": true,
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
		UPDATE patients
		SET %s
		WHERE id = $%d
	`, strings.Join(setParts, ", "), argN)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isAccessDenied(err) {
			return fmt.Errorf("update patient %d: %w", id, ErrAccessDenied)
		}
		return fmt.Errorf("failed to update patient: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("patient not found: id=%d", id)
	}

	return nil
}
