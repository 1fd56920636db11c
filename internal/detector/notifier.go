package detector

import (
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"wisefido-monitor/internal/models"
)

// Notifier 报警外呼客户端
// 把报警事件 POST 到值班通道（钉钉/企微机器人或寻呼网关）。
// 尽力而为：失败只记日志，报警事件本身照常发出。
type Notifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewNotifier 创建外呼客户端，url 为空时返回 nil
func NewNotifier(url string, logger *zap.Logger) *Notifier {
	if url == "" {
		return nil
	}

	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Notifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Notify 外呼一条报警事件
func (n *Notifier) Notify(alert *models.AlertEvent) {
	resp, err := n.httpClient.R().
		SetBody(alert).
		Post(n.url)
	if err != nil {
		n.logger.Warn("Alert webhook request failed",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err))
		return
	}
	if resp.StatusCode() >= 300 {
		n.logger.Warn("Alert webhook returned non-success status",
			zap.String("alert_id", alert.AlertID),
			zap.Int("status", resp.StatusCode()))
	}
}
