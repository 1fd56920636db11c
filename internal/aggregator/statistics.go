package aggregator

import (
	"sync"
	"time"

	"wisefido-monitor/internal/models"
)

// Statistics 处理统计
// 总量与分族计数单调递增；处理速率用按秒分桶的环形窗口计算。
type Statistics struct {
	mu         sync.RWMutex
	total      int64
	byFamily   map[models.DeviceFamily]int64
	buckets    []int64 // 每秒一个桶
	bucketSecs []int64 // 各桶对应的 unix 秒，用于识别过期桶
	window     time.Duration
	startedAt  time.Time
}

// NewStatistics 创建统计器，window 为速率滑动窗口
func NewStatistics(window time.Duration) *Statistics {
	secs := int(window / time.Second)
	if secs <= 0 {
		secs = 60
	}
	return &Statistics{
		byFamily:   make(map[models.DeviceFamily]int64),
		buckets:    make([]int64, secs),
		bucketSecs: make([]int64, secs),
		window:     time.Duration(secs) * time.Second,
		startedAt:  time.Now(),
	}
}

// RecordEvent 记录一条已处理事件
func (s *Statistics) RecordEvent(family models.DeviceFamily) {
	now := time.Now().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.byFamily[family]++

	idx := int(now % int64(len(s.buckets)))
	if s.bucketSecs[idx] != now {
		// 桶已轮转到新的一秒，清掉上一圈的计数
		s.bucketSecs[idx] = now
		s.buckets[idx] = 0
	}
	s.buckets[idx]++
}

// Snapshot 生成一致的统计快照
// dropped 和 activeByFamily 由调用方在同一时刻采集后传入。
func (s *Statistics) Snapshot(dropped int64, activeByFamily map[models.DeviceFamily]int64) models.StatisticsSnapshot {
	now := time.Now()
	cutoff := now.Unix() - int64(s.window/time.Second)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var windowCount int64
	for i, sec := range s.bucketSecs {
		if sec > cutoff {
			windowCount += s.buckets[i]
		}
	}

	byFamily := make(map[models.DeviceFamily]int64, len(s.byFamily))
	for f, n := range s.byFamily {
		byFamily[f] = n
	}

	// 服务运行未满一个窗口时按实际运行时长折算
	elapsed := s.window.Seconds()
	if running := now.Sub(s.startedAt).Seconds(); running < elapsed && running > 1 {
		elapsed = running
	}

	return models.StatisticsSnapshot{
		TotalMessages:  s.total,
		ProcessingRate: float64(windowCount) / elapsed,
		Dropped:        dropped,
		ByFamily:       byFamily,
		ActiveByFamily: activeByFamily,
		GeneratedAt:    now,
	}
}
