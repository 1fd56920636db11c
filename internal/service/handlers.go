package service

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRouter 组装 HTTP 路由（标准库 http.ServeMux，无需第三方路由）
func (s *Monitor) newRouter() http.Handler {
	mux := http.NewServeMux()

	// 仪表盘实时推送接入点
	mux.HandleFunc("/ws", s.hub.ServeWS)

	mux.HandleFunc("/healthz", s.handleHealthz)

	// 拉模式的快照与数据流视图，供排障脚本和不走 WebSocket 的调用方使用
	mux.HandleFunc("/api/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/v1/stages", s.handleStages)

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func (s *Monitor) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "wisefido-monitor",
	})
}

func (s *Monitor) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.aggregator.Snapshot())
}

func (s *Monitor) handleStages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Recent())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
