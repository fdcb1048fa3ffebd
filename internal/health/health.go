package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"testinbox/backend/internal/storage"
)

// Pinger 可探测连通性的外部依赖，例如 Redis。
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health    healthcheck.Handler
	store     storage.Store
	redis     Pinger
	logger    *zap.Logger
	startedAt time.Time
}

// NewHealthChecker 创建健康检查器。redis 为 nil 表示未启用。
func NewHealthChecker(store storage.Store, redis Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:    healthcheck.NewHandler(),
		store:     store,
		redis:     redis,
		logger:    logger,
		startedAt: time.Now(),
	}

	hc.addChecks()
	return hc
}

func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("store", hc.store.Health)
	hc.health.AddReadinessCheck("store", hc.store.Health)

	if hc.redis != nil {
		// Redis 只影响事件推送，不影响存活
		hc.health.AddReadinessCheck("redis", RedisHealthCheck(hc.redis))
	}
}

// Handler 返回健康检查处理器，提供 /live 与 /ready。
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// Report 健康报告
type Report struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Store     storage.Stats     `json:"store"`
	Uptime    string            `json:"uptime"`
	Timestamp string            `json:"timestamp"`
}

// CheckHealth 执行全部检查并生成报告
func (hc *HealthChecker) CheckHealth() Report {
	report := Report{
		Status: "ok",
		Checks: make(map[string]string),
	}

	if err := hc.store.Health(); err != nil {
		report.Status = "error"
		report.Checks["store"] = fmt.Sprintf("ERROR: %v", err)
		hc.logger.Warn("store health check failed", zap.Error(err))
	} else {
		report.Checks["store"] = "OK"
		report.Store = hc.store.Stats()
	}

	if hc.redis == nil {
		report.Checks["redis"] = "NOT_CONFIGURED"
	} else if err := RedisHealthCheck(hc.redis)(); err != nil {
		// Redis 故障只降级，不影响收信
		if report.Status == "ok" {
			report.Status = "degraded"
		}
		report.Checks["redis"] = fmt.Sprintf("ERROR: %v", err)
		hc.logger.Warn("redis health check failed", zap.Error(err))
	} else {
		report.Checks["redis"] = "OK"
	}

	report.Uptime = time.Since(hc.startedAt).Round(time.Second).String()
	report.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return report
}

// RedisHealthCheck Redis 健康检查
func RedisHealthCheck(p Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		return p.Ping(ctx)
	}
}
