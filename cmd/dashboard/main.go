// dashboard 多面板交易仪表盘（终端版）
//
// 四个面板各自订阅一种服务端资源（余额、订单、订单簿、成交），
// 同步核心负责按各自节拍轮询、写入缓存并在变更成功后强制刷新。
// UI 只读缓存，不直接碰网络。
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dashbot/godash/internal/domain"
	"github.com/dashbot/godash/internal/engine"
	"github.com/dashbot/godash/internal/metrics"
	"github.com/dashbot/godash/internal/ports"
	"github.com/dashbot/godash/internal/push"
	"github.com/dashbot/godash/internal/services"
	"github.com/dashbot/godash/pkg/config"
	"github.com/dashbot/godash/pkg/logger"
	"github.com/dashbot/godash/pkg/persistence"
	"github.com/dashbot/godash/pkg/shutdown"
)

// storedUser 本地持久化的用户标识（首次运行时向引擎注册）
type storedUser struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}

func main() {
	configPath := flag.String("config", "", "YAML 配置文件路径（可选）")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}

	// TUI 模式下日志必须进文件，否则会打乱终端画面
	logFile := cfg.LogFile
	if logFile == "" {
		logDir := "logs"
		if err := os.MkdirAll(logDir, 0755); err != nil {
			logDir = os.TempDir()
		}
		logFile = filepath.Join(logDir, "dashboard.log")
	}
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, OutputFile: logFile}); err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := engine.NewClient(cfg.EngineURL)

	userID, err := bootstrapUser(ctx, cfg, client)
	if err != nil {
		logrus.Fatalf("用户引导失败: %v", err)
	}
	logger.Infof("用户就绪: id=%d symbol=%s", userID, cfg.Symbol)

	fetcher := engine.NewFetcher(client, cfg.TradesLimit)
	cache := services.NewResourceCache(nil, cfg.EvictionGrace)
	poller := services.NewPoller(nil, fetcher, cache)
	coordinator := services.NewInvalidationCoordinator()
	executor := services.NewMutationExecutor(client, coordinator, poller)

	var monitor ports.ConnectionMonitor
	if cfg.PushURL != "" {
		monitor = push.NewWS(cfg.PushURL)
	} else {
		monitor = push.NewSimulated(nil, 0)
	}
	if err := monitor.Start(ctx); err != nil {
		logger.Warnf("连接监视器启动失败（指示器将显示离线）: %v", err)
	}

	if cfg.DebugAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.DebugAddr); err != nil {
			logger.Warnf("调试端口启动失败: %v", err)
		}
	}

	sd := shutdown.NewManager()
	sd.OnShutdown(func(_ context.Context, _ *sync.WaitGroup) {
		monitor.Stop()
		cache.Teardown()
		poller.StopAll()
	})

	m, err := newModel(cache, executor, monitor, cfg, userID)
	if err != nil {
		logrus.Fatalf("初始化面板失败: %v", err)
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		logger.Errorf("仪表盘运行错误: %v", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	sd.Shutdown(shutdownCtx)
}

// bootstrapUser 读取本地保存的用户 ID；没有则向引擎注册一个并落盘
func bootstrapUser(ctx context.Context, cfg *config.Config, client *engine.Client) (int64, error) {
	store := persistence.NewJSONFileService(cfg.UserFile).NewStore("dashboard", "user", "identity")

	var saved storedUser
	err := store.Load(&saved)
	if err == nil && saved.UserID > 0 {
		return saved.UserID, nil
	}
	if err != nil && !errors.Is(err, persistence.ErrNotExists) {
		return 0, errors.Wrap(err, "读取本地用户标识")
	}

	email := "trader@localhost"
	user, err := client.CreateUser(ctx, email, "dashboard")
	if err != nil {
		return 0, errors.Wrap(err, "注册用户")
	}
	saved = storedUser{UserID: user.ID, Email: email}
	if err := store.Save(&saved); err != nil {
		logger.Warnf("保存用户标识失败（下次启动会重新注册）: %v", err)
	}
	return user.ID, nil
}

// intervalFor 各面板的轮询间隔
func intervalFor(cfg *config.Config, kind domain.ResourceKind) time.Duration {
	switch kind {
	case domain.ResourceBalances:
		return cfg.BalancesInterval
	case domain.ResourceOrders:
		return cfg.OrdersInterval
	case domain.ResourceOrderBook:
		return cfg.OrderBookInterval
	case domain.ResourceTrades:
		return cfg.TradesInterval
	}
	return cfg.BalancesInterval
}
