package sync

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"erp-sync-service/internal/config"
	"erp-sync-service/internal/logger"
)

// Scheduler runs the recurring syncs: a recent-window order sync and a
// lightweight catalog pass. An entry is skipped when its class of sync is
// already running.
type Scheduler struct {
	cfg     config.SchedulerConfig
	manager *Manager
	cron    *cron.Cron
}

func NewScheduler(cfg config.SchedulerConfig, manager *Manager) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		manager: manager,
		cron:    cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	if s.cfg.OrdersCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.OrdersCron, s.triggerOrderSync); err != nil {
			logger.Log.Error("Failed to schedule order sync", zap.Error(err))
		} else {
			logger.Log.Info("Scheduled order sync", zap.String("cron", s.cfg.OrdersCron))
		}
	}

	if s.cfg.CatalogCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.CatalogCron, s.triggerCatalogSync); err != nil {
			logger.Log.Error("Failed to schedule catalog sync", zap.Error(err))
		} else {
			logger.Log.Info("Scheduled catalog sync", zap.String("cron", s.cfg.CatalogCron))
		}
	}

	if s.cfg.TokenRefreshCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.TokenRefreshCron, s.triggerTokenRefresh); err != nil {
			logger.Log.Error("Failed to schedule token refresh", zap.Error(err))
		} else {
			logger.Log.Info("Scheduled token refresh", zap.String("cron", s.cfg.TokenRefreshCron))
		}
	}

	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerTokenRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.manager.RefreshToken(ctx); err != nil {
		logger.Log.Error("Scheduled token refresh failed", zap.Error(err))
		return
	}
	logger.Log.Info("Refreshed upstream token")
}

func (s *Scheduler) triggerOrderSync() {
	jobID, err := s.manager.StartOrderSync(context.Background(), OrderJobParams{
		Mode: OrderModeRecent,
		Days: s.cfg.OrdersRecentDays,
	})
	if errors.Is(err, ErrSyncRunning) {
		logger.Log.Info("Order sync already running, skipping scheduled run")
		return
	}
	if err != nil {
		logger.Log.Error("Failed to start scheduled order sync", zap.Error(err))
		return
	}
	logger.Log.Info("Triggered scheduled order sync", zap.String("job_id", jobID))
}

func (s *Scheduler) triggerCatalogSync() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := s.manager.RunCatalogSync(ctx, CatalogOptions{Mode: CatalogModeCron})
	if errors.Is(err, ErrSyncRunning) {
		logger.Log.Info("Catalog sync already running, skipping scheduled run")
		return
	}
	if err != nil {
		logger.Log.Error("Scheduled catalog sync failed", zap.Error(err))
		return
	}
	logger.Log.Info("Scheduled catalog sync finished",
		zap.Int("synced", result.Synced),
		zap.Bool("timed_out", result.TimedOut))
}
