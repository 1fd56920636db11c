package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
}

// Config wisefido-monitor 服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig // 各设备族监听器共用 broker，ClientID 按族派生

	// 各设备族订阅主题
	Topics struct {
		SleepPad string // 睡眠垫厂家分配的上行主题
		Radar    string // 雷达主题模式，radar/{serial}/data
		Wearable string // 穿戴设备主题模式，wearable/{device_id}/up
	}

	Bus struct {
		Capacity       int           // 每个订阅者的缓冲长度
		PublishTimeout time.Duration // 投递超时，超时即丢弃并计数
	}

	Aggregator struct {
		Shards         int           // 按 device_id 哈希分片数
		LivenessWindow time.Duration // 超过该时长无上报视为不活跃
		RateWindow     time.Duration // 处理速率滑动窗口
	}

	Hub struct {
		SendQueueSize    int // 每客户端发送队列长度
		SendFailureLimit int // 连续投递失败达到该值后踢出客户端
	}

	Detector struct {
		RulesPath  string // 报警阈值规则文件（YAML，可热更新）
		WebhookURL string // 报警外呼地址，空则不外呼
	}

	Directory struct {
		RefreshInterval time.Duration // 设备-住户绑定表刷新间隔
	}

	Cache struct {
		TTL time.Duration // 最新状态缓存过期时间
	}

	Stage struct {
		RingSize int // 流水线阶段标记环形缓冲长度
	}

	HTTP struct {
		Addr string
	}

	Startup struct {
		Deadline time.Duration // 启动期监听器订阅成功的最后期限，超过则启动失败
	}

	Shutdown struct {
		Timeout time.Duration // 停机时排空事件总线的最长等待
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Enabled = getEnv("DB_ENABLED", "false") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Enabled = getEnv("REDIS_ENABLED", "false") == "true"
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-monitor")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(parseInt(getEnv("MQTT_QOS", "1"), 1))
	cfg.MQTT.ConnectTimeout = parseDuration(getEnv("MQTT_CONNECT_TIMEOUT", "10s"), 10*time.Second)

	cfg.Topics.SleepPad = getEnv("SLEEPPAD_MQTT_TOPIC", "sleeppad/up")
	cfg.Topics.Radar = getEnv("RADAR_MQTT_TOPIC", "radar/+/data")
	cfg.Topics.Wearable = getEnv("WEARABLE_MQTT_TOPIC", "wearable/+/up")

	cfg.Bus.Capacity = parseInt(getEnv("BUS_CAPACITY", "1024"), 1024)
	cfg.Bus.PublishTimeout = parseDuration(getEnv("BUS_PUBLISH_TIMEOUT", "200ms"), 200*time.Millisecond)

	cfg.Aggregator.Shards = parseInt(getEnv("AGGREGATOR_SHARDS", "4"), 4)
	cfg.Aggregator.LivenessWindow = parseDuration(getEnv("LIVENESS_WINDOW", "5m"), 5*time.Minute)
	cfg.Aggregator.RateWindow = parseDuration(getEnv("RATE_WINDOW", "60s"), 60*time.Second)

	cfg.Hub.SendQueueSize = parseInt(getEnv("HUB_SEND_QUEUE_SIZE", "64"), 64)
	cfg.Hub.SendFailureLimit = parseInt(getEnv("HUB_SEND_FAILURE_LIMIT", "3"), 3)

	cfg.Detector.RulesPath = getEnv("ALERT_RULES_PATH", "configs/alert_rules.yaml")
	cfg.Detector.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")

	cfg.Directory.RefreshInterval = parseDuration(getEnv("DIRECTORY_REFRESH_INTERVAL", "60s"), 60*time.Second)

	cfg.Cache.TTL = parseDuration(getEnv("CACHE_TTL", "10m"), 10*time.Minute)

	cfg.Stage.RingSize = parseInt(getEnv("STAGE_RING_SIZE", "256"), 256)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Startup.Deadline = parseDuration(getEnv("STARTUP_DEADLINE", "60s"), 60*time.Second)
	cfg.Shutdown.Timeout = parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
