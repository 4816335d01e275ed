package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockPatientsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PatientRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewPatientRepository(db, logger)

	return db, mock, repo
}

func TestGetPatients_Success(t *testing.T) {
	db, mock, repo := setupMockPatientsDB(t)
	defer db.Close()

	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "name", "bed", "timer_running", "time_elapsed", "session_duration",
	}).
		AddRow(1, "Patient 1", "Bed 1", true, 120, 3600).
		AddRow(2, "Patient 2", "Bed 2", false, 0, 0)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	patients, err := repo.GetPatients(ctx)

	require.NoError(t, err)
	require.Len(t, patients, 2)
	assert.Equal(t, 1, patients[0].ID)
	assert.Equal(t, "Patient 1", patients[0].Name)
	assert.True(t, patients[0].TimerRunning)
	assert.Equal(t, 120, patients[0].TimeElapsed)
	assert.Equal(t, 3600, patients[0].SessionDuration)
	assert.Equal(t, "Bed 2", patients[1].Bed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPatients_QueryError(t *testing.T) {
	db, mock, repo := setupMockPatientsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnError(sql.ErrConnDone)

	patients, err := repo.GetPatients(context.Background())

	assert.Error(t, err)
	assert.Nil(t, patients)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePatient_Success(t *testing.T) {
	db, mock, repo := setupMockPatientsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE patients`).
		WithArgs(600, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdatePatient(context.Background(), 1, map[string]interface{}{
		"time_elapsed": 600,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePatient_InvalidInput(t *testing.T) {
	db, _, repo := setupMockPatientsDB(t)
	defer db.Close()

	ctx := context.Background()

	err := repo.UpdatePatient(ctx, 0, map[string]interface{}{"name": "x"})
	assert.Error(t, err)

	err = repo.UpdatePatient(ctx, 1, map[string]interface{}{})
	assert.Error(t, err)

	err = repo.UpdatePatient(ctx, 1, map[string]interface{}{"id": 2})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestUpdatePatient_NotFound(t *testing.T) {
	db, mock, repo := setupMockPatientsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE patients`).
		WithArgs(true, 99).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdatePatient(context.Background(), 99, map[string]interface{}{
		"timer_running": true,
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePatient_AccessDenied(t *testing.T) {
	db, mock, repo := setupMockPatientsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE patients`).
		WithArgs(true, 1).
		WillReturnError(&pq.Error{Code: "42501"})

	err := repo.UpdatePatient(context.Background(), 1, map[string]interface{}{
		"timer_running": true,
	})

	// 权限类失败必须可识别，调用方据此转入纯本地模式
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAccessDenied)

	require.NoError(t, mock.ExpectationsWereMet())
}
