package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-monitor/internal/models"
)

func setupMockStateDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *StateRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewStateRepository(db, logger)

	return db, mock, repo
}

func TestUpsertDevice_Success(t *testing.T) {
	db, mock, repo := setupMockStateDB(t)
	defer db.Close()

	lastSeen := time.Unix(1700000000, 0)
	device := &models.DeviceState{
		DeviceID:      "sp-001",
		Family:        models.FamilySleepPad,
		PatientID:     "patient-1",
		LastSeenAt:    lastSeen,
		MessagesTotal: 42,
	}

	mock.ExpectExec(`INSERT INTO devices`).
		WithArgs("sp-001", "sleeppad", "patient-1", lastSeen, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertDevice(context.Background(), device)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDevice_UnboundDeviceWritesNullPatient(t *testing.T) {
	db, mock, repo := setupMockStateDB(t)
	defer db.Close()

	lastSeen := time.Unix(1700000000, 0)
	device := &models.DeviceState{
		DeviceID:   "rd-001",
		Family:     models.FamilyRadar,
		LastSeenAt: lastSeen,
	}

	mock.ExpectExec(`INSERT INTO devices`).
		WithArgs("rd-001", "radar", nil, lastSeen, int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertDevice(context.Background(), device)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDevice_MissingDeviceID(t *testing.T) {
	db, mock, repo := setupMockStateDB(t)
	defer db.Close()

	err := repo.UpsertDevice(context.Background(), &models.DeviceState{})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "device_id is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDevice_ExecError(t *testing.T) {
	db, mock, repo := setupMockStateDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO devices`).
		WillReturnError(errors.New("connection refused"))

	err := repo.UpsertDevice(context.Background(), &models.DeviceState{
		DeviceID: "sp-001",
		Family:   models.FamilySleepPad,
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert device")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPatientReading_Success(t *testing.T) {
	db, mock, repo := setupMockStateDB(t)
	defer db.Close()

	observedAt := time.Unix(1700000000, 0)
	receivedAt := time.Unix(1700000001, 0)
	ev := &models.TelemetryEvent{
		Family:     models.FamilyWearable,
		DeviceID:   "wb-001",
		PatientID:  "patient-1",
		Type:       models.MeasurementBloodPressure,
		Value:      models.MeasurementValue{Numeric: 135, Diastolic: 88},
		ObservedAt: observedAt,
		ReceivedAt: receivedAt,
	}

	mock.ExpectExec(`INSERT INTO patient_readings`).
		WithArgs("patient-1", "wb-001", "blood_pressure", float64(135), float64(88),
			nil, false, observedAt, receivedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertPatientReading(context.Background(), ev)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPatientReading_TextMeasurement(t *testing.T) {
	db, mock, repo := setupMockStateDB(t)
	defer db.Close()

	observedAt := time.Unix(1700000000, 0)
	receivedAt := time.Unix(1700000001, 0)
	ev := &models.TelemetryEvent{
		Family:     models.FamilyRadar,
		DeviceID:   "rd-001",
		PatientID:  "patient-2",
		Type:       models.MeasurementLocation,
		Value:      models.MeasurementValue{Text: "fall"},
		ObservedAt: observedAt,
		ReceivedAt: receivedAt,
	}

	mock.ExpectExec(`INSERT INTO patient_readings`).
		WithArgs("patient-2", "rd-001", "location", float64(0), float64(0),
			"fall", false, observedAt, receivedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertPatientReading(context.Background(), ev)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPatientReading_MissingPatientID(t *testing.T) {
	db, mock, repo := setupMockStateDB(t)
	defer db.Close()

	err := repo.UpsertPatientReading(context.Background(), &models.TelemetryEvent{
		DeviceID: "rd-001",
		Type:     models.MeasurementLocation,
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "patient_id is required")
	require.NoError(t, mock.ExpectationsWereMet())
}
