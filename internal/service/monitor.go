package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-monitor/internal/aggregator"
	"wisefido-monitor/internal/bus"
	"wisefido-monitor/internal/cache"
	"wisefido-monitor/internal/codec"
	"wisefido-monitor/internal/config"
	"wisefido-monitor/internal/database"
	"wisefido-monitor/internal/detector"
	"wisefido-monitor/internal/hub"
	"wisefido-monitor/internal/listener"
	"wisefido-monitor/internal/metrics"
	"wisefido-monitor/internal/models"
	"wisefido-monitor/internal/mqtt"
	"wisefido-monitor/internal/repository"
	"wisefido-monitor/internal/stage"
	"wisefido-monitor/internal/store"
)

// Monitor 监护数据接入服务
//
// 装配整条流水线：设备族监听器 -> 事件总线 -> 状态聚合器 / 紧急状况
// 检测器 -> 广播枢纽 -> WebSocket 客户端，外加写回协作方与 HTTP 端点。
type Monitor struct {
	config *config.Config
	logger *zap.Logger

	db    *sql.DB
	redis *redis.Client

	bus       *bus.Bus
	tracker   *stage.Tracker
	directory *repository.Directory
	rules     *config.RulesLoader
	rulesStop func()

	listeners  []*listener.Listener
	aggregator *aggregator.Aggregator
	detector   *detector.Detector
	hub        *hub.Hub

	stateRepo    *repository.StateRepository
	cacheManager *cache.Manager

	httpServer *Server

	cancel          context.CancelFunc
	writeBehindDone chan struct{}
}

// NewMonitor 创建服务并完成全部装配
func NewMonitor(cfg *config.Config, logger *zap.Logger) (*Monitor, error) {
	s := &Monitor{
		config:          cfg,
		logger:          logger,
		writeBehindDone: make(chan struct{}),
	}

	// 初始化数据库（可关闭，关闭时流水线纯内存运行）
	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
	} else {
		logger.Info("Database disabled, state persistence is off")
	}

	// 初始化Redis
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = redisClient
		s.cacheManager = cache.NewManager(store.NewRedisKV(redisClient), cfg.Cache.TTL, logger)
	} else {
		logger.Info("Redis disabled, warm start is off")
	}

	// 创建Repository与绑定目录
	var bindingSource repository.BindingSource
	var alertStore detector.AlertStore
	if s.db != nil {
		bindingSource = repository.NewBindingsRepository(s.db, logger)
		s.stateRepo = repository.NewStateRepository(s.db, logger)
		alertStore = repository.NewAlertsRepository(s.db, logger)
	}
	s.directory = repository.NewDirectory(bindingSource, logger)

	// 事件总线与阶段跟踪器
	s.bus = bus.New(cfg.Bus.Capacity, cfg.Bus.PublishTimeout, logger)
	s.tracker = stage.NewTracker(cfg.Stage.RingSize, s.bus)

	// 消费者订阅须在发布开始之前注册
	aggSub := s.bus.Subscribe("aggregator")
	detSub := s.bus.Subscribe("detector")
	hubSub := s.bus.Subscribe("hub")

	s.aggregator = aggregator.NewAggregator(cfg, aggSub, s.tracker, s.bus.TotalDropped, logger)

	rules, err := config.NewRulesLoader(cfg.Detector.RulesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert rules: %w", err)
	}
	s.rules = rules
	s.detector = detector.New(detSub, rules, alertStore,
		detector.NewNotifier(cfg.Detector.WebhookURL, logger), logger)

	s.hub = hub.New(cfg, s.aggregator.Snapshot, s.aggregator.Updates(),
		s.detector.Alerts(), hubSub, s.tracker, logger)

	// 编解码器启动时注册，监听器按族领取
	registry := codec.NewRegistry(
		codec.NewSleepPadCodec(),
		codec.NewRadarCodec(),
		codec.NewWearableCodec(),
	)
	logger.Info("Device codecs registered", zap.Any("families", registry.Families()))

	for _, sub := range []struct {
		family models.DeviceFamily
		topic  string
	}{
		{models.FamilySleepPad, cfg.Topics.SleepPad},
		{models.FamilyRadar, cfg.Topics.Radar},
		{models.FamilyWearable, cfg.Topics.Wearable},
	} {
		c, ok := registry.Get(sub.family)
		if !ok {
			return nil, fmt.Errorf("no codec registered for family %s", sub.family)
		}
		s.listeners = append(s.listeners, s.newListener(sub.family, sub.topic, c))
	}

	s.httpServer = NewServer(cfg.HTTP.Addr, s.newRouter(), logger)

	return s, nil
}

// newListener 每个设备族独立连接，ClientID 按族派生避免 broker 互踢
func (s *Monitor) newListener(family models.DeviceFamily, topic string, c codec.Codec) *listener.Listener {
	mqttCfg := s.config.MQTT
	mqttCfg.ClientID = fmt.Sprintf("%s-%s", s.config.MQTT.ClientID, family)

	connect := func(onLost func(error)) (listener.Transport, error) {
		return mqtt.NewClient(&mqttCfg, s.logger, onLost)
	}

	return listener.New(listener.Options{
		Family:          family,
		Topic:           topic,
		QoS:             s.config.MQTT.QoS,
		StartupDeadline: s.config.Startup.Deadline,
	}, c, s.bus, s.tracker, s.directory, connect, s.logger)
}

// Start 启动服务
// 消费端先行，监听器最后订阅；任一监听器在启动期限内订阅不成即失败。
func (s *Monitor) Start(ctx context.Context) error {
	s.logger.Info("Starting monitor service components")

	ctx, s.cancel = context.WithCancel(ctx)

	// 热启动：回灌缓存里的最近状态
	if s.cacheManager != nil {
		s.warmStart(ctx)
	}

	// 绑定目录首刷 + 周期刷新
	if err := s.directory.Refresh(ctx); err != nil {
		s.logger.Warn("Initial directory refresh failed, starting with empty directory",
			zap.Error(err))
	}
	go s.directory.Watch(ctx, s.config.Directory.RefreshInterval)

	// 报警规则热更新
	if stop, err := s.rules.Watch(); err != nil {
		s.logger.Warn("Alert rules watch unavailable", zap.Error(err))
	} else {
		s.rulesStop = stop
	}

	s.aggregator.Start()
	s.detector.Start()
	s.hub.Start()
	go s.writeBehind()

	go func() {
		if err := s.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	for _, l := range s.listeners {
		if err := l.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s listener: %w", l.Family(), err)
		}
	}

	s.logger.Info("Monitor service started successfully")
	return nil
}

// Stop 停止服务
// 顺序：监听器停订 -> 总线关闭 -> 消费者在停机时限内排空 ->
// 规则热更新停表 -> HTTP 停机 -> 基础设施断开。
func (s *Monitor) Stop(ctx context.Context) error {
	s.logger.Info("Stopping monitor service")

	for _, l := range s.listeners {
		l.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.bus.Close()

	drained := make(chan struct{})
	go func() {
		<-s.aggregator.Done()
		<-s.detector.Done()
		<-s.hub.Done()
		<-s.writeBehindDone
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.config.Shutdown.Timeout):
		s.logger.Warn("Shutdown timeout exceeded, some events may be unprocessed")
	}

	if s.rulesStop != nil {
		s.rulesStop()
	}

	if s.httpServer != nil {
		if err := s.httpServer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping HTTP server", zap.Error(err))
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Error closing redis", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database", zap.Error(err))
		}
	}

	s.logger.Info("Monitor service stopped")
	return nil
}

// warmStart 从缓存回灌上一轮的设备与住户状态
// 任何失败都只降级为冷启动，不阻止服务起来。
func (s *Monitor) warmStart(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	devices, err := s.cacheManager.LoadDevices(loadCtx)
	if err != nil {
		s.logger.Warn("Warm start skipped, failed to load device cache", zap.Error(err))
		return
	}
	patients, err := s.cacheManager.LoadPatients(loadCtx)
	if err != nil {
		s.logger.Warn("Warm start skipped, failed to load patient cache", zap.Error(err))
		return
	}

	s.aggregator.Seed(devices, patients)
	s.logger.Info("Warm start complete",
		zap.Int("devices", len(devices)),
		zap.Int("patients", len(patients)))
}

// writeBehind 写回工作协程，消费状态变更做落库与缓存
func (s *Monitor) writeBehind() {
	defer close(s.writeBehindDone)
	for change := range s.aggregator.Changes() {
		s.persistChange(change)
	}
}

// persistChange 单条状态变更的写回
// 数据流大于必达：任何落库/缓存失败都只计数并记日志。
func (s *Monitor) persistChange(change *aggregator.StateChange) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stored := false
	if s.stateRepo != nil {
		if err := s.stateRepo.UpsertDevice(ctx, change.Device); err != nil {
			metrics.PersistErrors.WithLabelValues("devices").Inc()
			s.logger.Warn("Failed to persist device state",
				zap.String("device_id", change.Device.DeviceID),
				zap.Error(err))
		} else {
			stored = true
		}
		if change.Event != nil && change.Event.PatientID != "" {
			if err := s.stateRepo.UpsertPatientReading(ctx, change.Event); err != nil {
				metrics.PersistErrors.WithLabelValues("readings").Inc()
				s.logger.Warn("Failed to persist patient reading",
					zap.String("patient_id", change.Event.PatientID),
					zap.Error(err))
				stored = false
			}
		}
	}
	if stored && change.Event != nil {
		ref := change.Event.RawRef
		if ref == "" {
			ref = change.Event.DeviceID
		}
		s.tracker.Record(models.StageMarker{
			EventRef: ref,
			Family:   change.Event.Family,
			Stage:    models.StageStored,
		})
	}

	if s.cacheManager == nil {
		return
	}
	if err := s.cacheManager.SaveDevice(ctx, change.Device); err != nil {
		metrics.PersistErrors.WithLabelValues("cache").Inc()
		s.logger.Warn("Failed to cache device state",
			zap.String("device_id", change.Device.DeviceID),
			zap.Error(err))
	}
	if change.Patient != nil {
		if err := s.cacheManager.SavePatient(ctx, change.Patient); err != nil {
			metrics.PersistErrors.WithLabelValues("cache").Inc()
			s.logger.Warn("Failed to cache patient state",
				zap.String("patient_id", change.Patient.PatientID),
				zap.Error(err))
		}
	}
}
