package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-session/internal/models"
)

func setupMockAlertsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AlertRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewAlertRepository(db, logger)

	return db, mock, repo
}

func TestGetAlerts_Success(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	id1 := uuid.New().String()
	id2 := uuid.New().String()

	rows := sqlmock.NewRows([]string{
		"id", "patient_id", "type", "trigger_at", "triggered", "dismissed", "last_triggered_at",
	}).
		AddRow(id1, 1, "needles", 300, false, false, nil).
		AddRow(id2, 2, "pulse", 600, true, false, 610)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	alerts, err := repo.GetAlerts(context.Background())

	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, id1, alerts[0].ID)
	assert.Equal(t, models.AlertNeedles, alerts[0].Type)
	assert.Nil(t, alerts[0].LastTriggeredAt)
	assert.True(t, alerts[1].Triggered)
	require.NotNil(t, alerts[1].LastTriggeredAt)
	assert.Equal(t, 610, *alerts[1].LastTriggeredAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlert_ReturnsServerID(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	serverID := uuid.New().String()

	mock.ExpectQuery(`INSERT INTO alerts`).
		WithArgs(1, models.AlertPulse, 300, false, false, sql.NullInt64{}).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(serverID))

	gotID, err := repo.CreateAlert(context.Background(), &models.Alert{
		ID:        models.NewLocalID(),
		PatientID: 1,
		Type:      models.AlertPulse,
		TriggerAt: 300,
	})

	require.NoError(t, err)
	assert.Equal(t, serverID, gotID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlert_InvalidInput(t *testing.T) {
	db, _, repo := setupMockAlertsDB(t)
	defer db.Close()

	ctx := context.Background()

	_, err := repo.CreateAlert(ctx, nil)
	assert.Error(t, err)

	_, err = repo.CreateAlert(ctx, &models.Alert{Type: models.AlertPulse})
	assert.Error(t, err)

	_, err = repo.CreateAlert(ctx, &models.Alert{PatientID: 1})
	assert.Error(t, err)
}

func TestCreateAlert_AccessDenied(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO alerts`).
		WillReturnError(&pq.Error{Code: "42501"})

	_, err := repo.CreateAlert(context.Background(), &models.Alert{
		PatientID: 1,
		Type:      models.AlertNeedles,
		TriggerAt: 120,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAccessDenied)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAlert_Success(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	id := uuid.New().String()

	mock.ExpectExec(`UPDATE alerts`).
		WithArgs(true, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateAlert(context.Background(), id, map[string]interface{}{
		"dismissed": true,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAlert_LocalIDIsNoOp(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	// 本地提醒从未写入后端，更新直接按成功处理，不发SQL
	err := repo.UpdateAlert(context.Background(), models.NewLocalID(), map[string]interface{}{
		"dismissed": true,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAlert_DisallowedField(t *testing.T) {
	db, _, repo := setupMockAlertsDB(t)
	defer db.Close()

	err := repo.UpdateAlert(context.Background(), uuid.New().String(), map[string]interface{}{
		"patient_id": 2,
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestDeleteAlert_Success(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	id := uuid.New().String()

	mock.ExpectExec(`DELETE FROM alerts`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.DeleteAlert(context.Background(), id)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAlert_LocalIDIsNoOp(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	err := repo.DeleteAlert(context.Background(), models.NewLocalID())

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAlert_AlreadyDeletedIsNotError(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	id := uuid.New().String()

	mock.ExpectExec(`DELETE FROM alerts`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteAlert(context.Background(), id)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
