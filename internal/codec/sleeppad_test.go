package codec_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-monitor/internal/codec"
	"wisefido-monitor/internal/models"
)

func TestSleepPadCodec_Decode_Realtime(t *testing.T) {
	c := codec.NewSleepPadCodec()
	payload := []byte(`{"deviceId":"sp-001","dataKey":"realtime","timestamp":1700000000,"data":{"breath":16,"heart":72,"bedStatus":0,"signalQuality":4}}`)

	events, err := c.Decode(payload, "sleeppad/up")
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, models.FamilySleepPad, events[0].Family)
	assert.Equal(t, "sp-001", events[0].DeviceID)
	assert.Equal(t, models.MeasurementHeartRate, events[0].Type)
	assert.Equal(t, float64(72), events[0].Value.Numeric)
	assert.Equal(t, time.Unix(1700000000, 0), events[0].ObservedAt)

	assert.Equal(t, models.MeasurementRespiration, events[1].Type)
	assert.Equal(t, float64(16), events[1].Value.Numeric)

	assert.Equal(t, models.MeasurementLocation, events[2].Type)
	assert.Equal(t, "in_bed", events[2].Value.Text)
}

func TestSleepPadCodec_Decode_FiltersInvalidVitals(t *testing.T) {
	c := codec.NewSleepPadCodec()
	// 心率 255、呼吸 0 均为无效值，只剩床状态
	payload := []byte(`{"deviceId":"sp-001","dataKey":"realtime","timestamp":1700000000,"data":{"breath":0,"heart":255,"bedStatus":1}}`)

	events, err := c.Decode(payload, "sleeppad/up")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.MeasurementLocation, events[0].Type)
	assert.Equal(t, "off_bed", events[0].Value.Text)
}

func TestSleepPadCodec_Decode_HistoryBatchOrdered(t *testing.T) {
	c := codec.NewSleepPadCodec()
	payload := []byte(`{"deviceId":"sp-001","dataKey":"history","timestamp":1700000300,"data":[
		{"breath":14,"heart":60,"bedStatus":0,"timestamp":1700000100},
		{"breath":15,"heart":62,"bedStatus":0,"timestamp":1700000200}
	]}`)

	events, err := c.Decode(payload, "sleeppad/up")
	require.NoError(t, err)
	require.Len(t, events, 6)

	// 批量记录按原始顺序展开，每条记录使用自带时间戳
	assert.Equal(t, float64(60), events[0].Value.Numeric)
	assert.Equal(t, time.Unix(1700000100, 0), events[0].ObservedAt)
	assert.Equal(t, float64(62), events[3].Value.Numeric)
	assert.Equal(t, time.Unix(1700000200, 0), events[3].ObservedAt)
}

func TestSleepPadCodec_Decode_Battery(t *testing.T) {
	c := codec.NewSleepPadCodec()
	payload := []byte(`{"deviceId":"sp-001","dataKey":"battery","timestamp":1700000000,"data":{"battery":35}}`)

	events, err := c.Decode(payload, "sleeppad/up")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.MeasurementBattery, events[0].Type)
	assert.Equal(t, float64(35), events[0].Value.Numeric)
}

func TestSleepPadCodec_Decode_MissingDeviceID(t *testing.T) {
	c := codec.NewSleepPadCodec()
	payload := []byte(`{"dataKey":"realtime","timestamp":1700000000,"data":{"heart":72}}`)

	_, err := c.Decode(payload, "sleeppad/up")
	require.Error(t, err)

	var decodeErr *codec.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, codec.KindMissingDeviceID, decodeErr.Kind)
}

func TestSleepPadCodec_Decode_MalformedPayload(t *testing.T) {
	c := codec.NewSleepPadCodec()

	_, err := c.Decode([]byte(`not json`), "sleeppad/up")
	require.Error(t, err)

	var decodeErr *codec.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, codec.KindMalformedPayload, decodeErr.Kind)
}

func TestSleepPadCodec_Decode_UnknownDataKey(t *testing.T) {
	c := codec.NewSleepPadCodec()
	payload := []byte(`{"deviceId":"sp-001","dataKey":"firmware","timestamp":1700000000,"data":{}}`)

	_, err := c.Decode(payload, "sleeppad/up")
	require.Error(t, err)

	var decodeErr *codec.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, codec.KindUnknownMeasurement, decodeErr.Kind)
}

func TestSleepPadCodec_Decode_Deterministic(t *testing.T) {
	c := codec.NewSleepPadCodec()
	payload := []byte(`{"deviceId":"sp-001","dataKey":"realtime","timestamp":1700000000,"data":{"breath":16,"heart":72,"bedStatus":0}}`)

	first, err := c.Decode(payload, "sleeppad/up")
	require.NoError(t, err)
	second, err := c.Decode(payload, "sleeppad/up")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
