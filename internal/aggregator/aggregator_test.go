package aggregator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	agg "wisefido-monitor/internal/aggregator"
	"wisefido-monitor/internal/bus"
	"wisefido-monitor/internal/config"
	"wisefido-monitor/internal/models"
	"wisefido-monitor/internal/stage"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Aggregator.Shards = 4
	cfg.Aggregator.LivenessWindow = 5 * time.Minute
	cfg.Aggregator.RateWindow = 60 * time.Second
	return cfg
}

func newTestAggregator(t *testing.T, droppedFn func() int64) (*agg.Aggregator, *bus.Bus) {
	t.Helper()
	b := bus.New(64, 50*time.Millisecond, zap.NewNop())
	sub := b.Subscribe("aggregator")
	tracker := stage.NewTracker(64, nil)
	a := agg.NewAggregator(testConfig(), sub, tracker, droppedFn, zap.NewNop())
	a.Start()
	t.Cleanup(func() {
		b.Close()
		<-a.Done()
	})
	return a, b
}

func event(family models.DeviceFamily, deviceID, patientID string, mt models.MeasurementType, observed, received time.Time) *models.TelemetryEvent {
	return &models.TelemetryEvent{
		Family:     family,
		DeviceID:   deviceID,
		PatientID:  patientID,
		Type:       mt,
		Value:      models.MeasurementValue{Numeric: 70},
		ObservedAt: observed,
		ReceivedAt: received,
	}
}

func collectUpdates(t *testing.T, a *agg.Aggregator, n int) []*models.StateUpdate {
	t.Helper()
	var got []*models.StateUpdate
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case u := <-a.Updates():
			got = append(got, u)
		case <-timeout:
			t.Fatalf("timed out waiting for %d updates, got %d", n, len(got))
		}
	}
	return got
}

func TestAggregator_LastSeenAtMonotonic(t *testing.T) {
	a, b := newTestAggregator(t, nil)

	base := time.Unix(1700000000, 0)
	b.Publish(bus.NewTelemetry(event(models.FamilySleepPad, "sp-1", "", models.MeasurementHeartRate, base, base)))
	b.Publish(bus.NewTelemetry(event(models.FamilySleepPad, "sp-1", "", models.MeasurementHeartRate, base.Add(time.Second), base.Add(time.Second))))
	// 补传的历史数据 received_at 更早，不能把 last_seen_at 拉回去
	b.Publish(bus.NewTelemetry(event(models.FamilySleepPad, "sp-1", "", models.MeasurementHeartRate, base.Add(-time.Hour), base.Add(-time.Hour))))

	updates := collectUpdates(t, a, 3)
	require.Len(t, updates, 3)

	snap := a.Snapshot()
	require.Len(t, snap.Devices, 1)
	assert.Equal(t, base.Add(time.Second), snap.Devices[0].LastSeenAt)
	assert.Equal(t, int64(3), snap.Devices[0].MessagesTotal)
}

func TestAggregator_LatestReadingsByObservedAt(t *testing.T) {
	a, b := newTestAggregator(t, nil)

	observed := time.Unix(1700000000, 0)
	early := event(models.FamilyWearable, "wb-1", "patient-1", models.MeasurementSpO2, observed, observed)
	early.Value.Numeric = 95

	// observed_at 相同，received_at 更晚的胜出
	tied := event(models.FamilyWearable, "wb-1", "patient-1", models.MeasurementSpO2, observed, observed.Add(time.Second))
	tied.Value.Numeric = 96

	// observed_at 更早的补传数据即使最后到也不能覆盖
	stale := event(models.FamilyWearable, "wb-1", "patient-1", models.MeasurementSpO2, observed.Add(-time.Minute), observed.Add(2*time.Second))
	stale.Value.Numeric = 80

	b.Publish(bus.NewTelemetry(early))
	b.Publish(bus.NewTelemetry(tied))
	b.Publish(bus.NewTelemetry(stale))
	collectUpdates(t, a, 3)

	snap := a.Snapshot()
	require.Len(t, snap.Patients, 1)
	reading := snap.Patients[0].LatestReadings[models.MeasurementSpO2]
	require.NotNil(t, reading)
	assert.Equal(t, float64(96), reading.Value.Numeric)
}

func TestAggregator_ThreeFamiliesOneReadingEach(t *testing.T) {
	a, b := newTestAggregator(t, nil)

	now := time.Now()
	b.Publish(bus.NewTelemetry(event(models.FamilySleepPad, "sp-1", "", models.MeasurementHeartRate, now, now)))
	b.Publish(bus.NewTelemetry(event(models.FamilyRadar, "rd-1", "", models.MeasurementLocation, now, now)))
	b.Publish(bus.NewTelemetry(event(models.FamilyWearable, "wb-1", "patient-1", models.MeasurementSpO2, now, now)))
	collectUpdates(t, a, 3)

	snap := a.Snapshot()
	assert.Equal(t, int64(3), snap.Statistics.TotalMessages)
	assert.Equal(t, int64(1), snap.Statistics.ByFamily[models.FamilySleepPad])
	assert.Equal(t, int64(1), snap.Statistics.ByFamily[models.FamilyRadar])
	assert.Equal(t, int64(1), snap.Statistics.ByFamily[models.FamilyWearable])
	assert.Greater(t, snap.Statistics.ProcessingRate, float64(0))

	require.Len(t, snap.Devices, 3)
	for _, d := range snap.Devices {
		assert.True(t, d.IsActive, "device %s should be active", d.DeviceID)
	}
	assert.Equal(t, int64(1), snap.Statistics.ActiveByFamily[models.FamilySleepPad])
	assert.Equal(t, int64(1), snap.Statistics.ActiveByFamily[models.FamilyRadar])
	assert.Equal(t, int64(1), snap.Statistics.ActiveByFamily[models.FamilyWearable])
}

func TestAggregator_StaleDeviceInactive(t *testing.T) {
	a, b := newTestAggregator(t, nil)

	old := time.Now().Add(-time.Hour)
	b.Publish(bus.NewTelemetry(event(models.FamilyRadar, "rd-1", "", models.MeasurementLocation, old, old)))
	collectUpdates(t, a, 1)

	snap := a.Snapshot()
	require.Len(t, snap.Devices, 1)
	assert.False(t, snap.Devices[0].IsActive)
	assert.Zero(t, snap.Statistics.ActiveByFamily[models.FamilyRadar])
}

func TestAggregator_PerDeviceOrderPreserved(t *testing.T) {
	a, b := newTestAggregator(t, nil)

	now := time.Now()
	const n = 20
	for i := 0; i < n; i++ {
		b.Publish(bus.NewTelemetry(event(models.FamilyWearable, "wb-1", "patient-1", models.MeasurementHeartRate,
			now.Add(time.Duration(i)*time.Second), now.Add(time.Duration(i)*time.Second))))
	}

	updates := collectUpdates(t, a, n)
	for i, u := range updates {
		require.NotNil(t, u.Device)
		// 同一设备的增量严格按事件顺序产出
		assert.Equal(t, int64(i+1), u.Device.MessagesTotal)
	}
}

func TestAggregator_SnapshotIsolatedCopy(t *testing.T) {
	a, b := newTestAggregator(t, nil)

	now := time.Now()
	b.Publish(bus.NewTelemetry(event(models.FamilyWearable, "wb-1", "patient-1", models.MeasurementSpO2, now, now)))
	collectUpdates(t, a, 1)

	first := a.Snapshot()
	// 篡改快照不影响聚合器内部状态
	first.Devices[0].MessagesTotal = 999
	first.Devices[0].MessagesByType[models.MeasurementSpO2] = 999
	first.Patients[0].LatestReadings[models.MeasurementHeartRate] = &models.TelemetryEvent{}

	second := a.Snapshot()
	assert.Equal(t, int64(1), second.Devices[0].MessagesTotal)
	assert.Equal(t, int64(1), second.Devices[0].MessagesByType[models.MeasurementSpO2])
	assert.NotContains(t, second.Patients[0].LatestReadings, models.MeasurementHeartRate)
}

func TestAggregator_DroppedCounterVisible(t *testing.T) {
	a, _ := newTestAggregator(t, func() int64 { return 7 })

	snap := a.Snapshot()
	assert.Equal(t, int64(7), snap.Statistics.Dropped)
}

func TestAggregator_SeedWarmStart(t *testing.T) {
	b := bus.New(64, 50*time.Millisecond, zap.NewNop())
	sub := b.Subscribe("aggregator")
	a := agg.NewAggregator(testConfig(), sub, stage.NewTracker(64, nil), nil, zap.NewNop())

	a.Seed([]models.DeviceState{{
		DeviceID:   "sp-9",
		Family:     models.FamilySleepPad,
		LastSeenAt: time.Now().Add(-time.Hour),
	}}, []models.PatientState{{
		PatientID:      "patient-9",
		BoundDeviceIDs: []string{"sp-9"},
	}})
	a.Start()
	t.Cleanup(func() {
		b.Close()
		<-a.Done()
	})

	snap := a.Snapshot()
	require.Len(t, snap.Devices, 1)
	assert.Equal(t, "sp-9", snap.Devices[0].DeviceID)
	// 预热的设备在收到新数据前显示为不活跃
	assert.False(t, snap.Devices[0].IsActive)
	require.Len(t, snap.Patients, 1)
	assert.Equal(t, []string{"sp-9"}, snap.Patients[0].BoundDeviceIDs)
}

func TestAggregator_PatientBindsMultipleDevices(t *testing.T) {
	a, b := newTestAggregator(t, nil)

	now := time.Now()
	b.Publish(bus.NewTelemetry(event(models.FamilyWearable, "wb-1", "patient-1", models.MeasurementHeartRate, now, now)))
	b.Publish(bus.NewTelemetry(event(models.FamilySleepPad, "sp-1", "patient-1", models.MeasurementRespiration, now, now)))
	collectUpdates(t, a, 2)

	snap := a.Snapshot()
	require.Len(t, snap.Patients, 1)
	assert.ElementsMatch(t, []string{"wb-1", "sp-1"}, snap.Patients[0].BoundDeviceIDs)
	require.Len(t, snap.Devices, 2)
}
