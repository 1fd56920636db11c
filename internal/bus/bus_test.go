package bus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-monitor/internal/bus"
	"wisefido-monitor/internal/models"
)

func testEvent(deviceID string) *models.TelemetryEvent {
	return &models.TelemetryEvent{
		Family:     models.FamilyWearable,
		DeviceID:   deviceID,
		Type:       models.MeasurementHeartRate,
		Value:      models.MeasurementValue{Numeric: 72},
		ObservedAt: time.Unix(1700000000, 0),
	}
}

func TestBus_Publish_FanOutToAllSubscriptions(t *testing.T) {
	b := bus.New(8, 50*time.Millisecond, zap.NewNop())
	first := b.Subscribe("first")
	second := b.Subscribe("second")

	b.Publish(bus.NewTelemetry(testEvent("dev-1")))

	msg := <-first.C()
	require.Equal(t, bus.KindTelemetry, msg.Kind)
	assert.Equal(t, "dev-1", msg.Event.DeviceID)

	msg = <-second.C()
	assert.Equal(t, "dev-1", msg.Event.DeviceID)
}

func TestBus_Publish_SlowSubscriberDroppedNotOthers(t *testing.T) {
	b := bus.New(1, 10*time.Millisecond, zap.NewNop())
	fast := b.Subscribe("fast")
	slow := b.Subscribe("slow")

	// fast 每轮都消费，slow 从不消费
	for i := 0; i < 3; i++ {
		b.Publish(bus.NewTelemetry(testEvent("dev-1")))
		<-fast.C()
	}

	// slow 缓冲住 1 条，其余 2 条超时丢弃并计数
	assert.Equal(t, int64(2), slow.Dropped())
	assert.Equal(t, int64(0), fast.Dropped())
	assert.Equal(t, int64(2), b.TotalDropped())
}

func TestBus_Close_DrainsBufferedMessages(t *testing.T) {
	b := bus.New(8, 50*time.Millisecond, zap.NewNop())
	sub := b.Subscribe("consumer")

	b.Publish(bus.NewTelemetry(testEvent("dev-1")))
	b.Publish(bus.NewTelemetry(testEvent("dev-2")))
	b.Close()

	// 关闭后仍可读出缓冲内的消息，读完通道关闭
	var got []string
	for msg := range sub.C() {
		got = append(got, msg.Event.DeviceID)
	}
	assert.Equal(t, []string{"dev-1", "dev-2"}, got)
}

func TestBus_Publish_AfterCloseIsNoop(t *testing.T) {
	b := bus.New(8, 50*time.Millisecond, zap.NewNop())
	sub := b.Subscribe("consumer")
	b.Close()

	assert.NotPanics(t, func() {
		b.Publish(bus.NewTelemetry(testEvent("dev-1")))
	})

	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestBus_Publish_StageMarker(t *testing.T) {
	b := bus.New(8, 50*time.Millisecond, zap.NewNop())
	sub := b.Subscribe("consumer")

	b.Publish(bus.NewStage(&models.StageMarker{
		EventRef: "sleeppad/up#12",
		Family:   models.FamilySleepPad,
		Stage:    models.StageReceived,
		StageAt:  time.Unix(1700000000, 0),
	}))

	msg := <-sub.C()
	require.Equal(t, bus.KindStage, msg.Kind)
	assert.Equal(t, models.StageReceived, msg.Stage.Stage)
	assert.Equal(t, "sleeppad/up#12", msg.Stage.EventRef)
}
