package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "owlrd", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "wisefido-monitor", cfg.MQTT.ClientID)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, "sleeppad/up", cfg.Topics.SleepPad)
	assert.Equal(t, "radar/+/data", cfg.Topics.Radar)
	assert.Equal(t, "wearable/+/up", cfg.Topics.Wearable)

	assert.Equal(t, 1024, cfg.Bus.Capacity)
	assert.Equal(t, 200*time.Millisecond, cfg.Bus.PublishTimeout)

	assert.Equal(t, 4, cfg.Aggregator.Shards)
	assert.Equal(t, 5*time.Minute, cfg.Aggregator.LivenessWindow)
	assert.Equal(t, 60*time.Second, cfg.Aggregator.RateWindow)

	assert.Equal(t, 64, cfg.Hub.SendQueueSize)
	assert.Equal(t, 3, cfg.Hub.SendFailureLimit)

	assert.Equal(t, "configs/alert_rules.yaml", cfg.Detector.RulesPath)
	assert.Equal(t, "", cfg.Detector.WebhookURL)

	assert.Equal(t, 60*time.Second, cfg.Directory.RefreshInterval)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 256, cfg.Stage.RingSize)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 60*time.Second, cfg.Startup.Deadline)
	assert.Equal(t, 10*time.Second, cfg.Shutdown.Timeout)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_ENABLED", "true")
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("MQTT_BROKER", "tcp://test-broker:1883")
	os.Setenv("MQTT_QOS", "2")
	os.Setenv("SLEEPPAD_MQTT_TOPIC", "vendor/sleeppad/upstream")
	os.Setenv("BUS_CAPACITY", "4096")
	os.Setenv("BUS_PUBLISH_TIMEOUT", "50ms")
	os.Setenv("AGGREGATOR_SHARDS", "8")
	os.Setenv("HUB_SEND_QUEUE_SIZE", "128")
	os.Setenv("ALERT_WEBHOOK_URL", "http://hooks.internal/alerts")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	// 验证环境变量覆盖
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, "tcp://test-broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
	assert.Equal(t, "vendor/sleeppad/upstream", cfg.Topics.SleepPad)
	assert.Equal(t, 4096, cfg.Bus.Capacity)
	assert.Equal(t, 50*time.Millisecond, cfg.Bus.PublishTimeout)
	assert.Equal(t, 8, cfg.Aggregator.Shards)
	assert.Equal(t, 128, cfg.Hub.SendQueueSize)
	assert.Equal(t, "http://hooks.internal/alerts", cfg.Detector.WebhookURL)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 清理环境变量
	os.Clearenv()
}

func TestLoad_InvalidNumbersFallBackToDefaults(t *testing.T) {
	os.Setenv("BUS_CAPACITY", "not-a-number")
	os.Setenv("BUS_PUBLISH_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Bus.Capacity)
	assert.Equal(t, 200*time.Millisecond, cfg.Bus.PublishTimeout)

	os.Clearenv()
}

func TestGetDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "db-host",
		Port:     5433,
		User:     "monitor",
		Password: "secret",
		Database: "owlrd",
		SSLMode:  "disable",
	}

	dsn := cfg.GetDSN()
	assert.Equal(t, "host=db-host port=5433 user=monitor password=secret dbname=owlrd sslmode=disable", dsn)
}
