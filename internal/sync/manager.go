package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"erp-sync-service/internal/config"
	"erp-sync-service/internal/logger"
	"erp-sync-service/internal/metrics"
	"erp-sync-service/internal/store"
	"erp-sync-service/internal/upstream"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSyncRunning is returned when a sync of the same class is already active.
var ErrSyncRunning = errors.New("sync already running")

// ManagerStatus is the live view the control API exposes.
type ManagerStatus struct {
	OrdersRunning    bool    `json:"orders_running"`
	OrdersJobID      string  `json:"orders_job_id,omitempty"`
	CatalogRunning   bool    `json:"catalog_running"`
	OrdersWindowPct  float64 `json:"orders_window_pct"`
	CatalogWindowPct float64 `json:"catalog_window_pct"`
	OrdersThrottled  int     `json:"orders_throttled"`
	CatalogThrottled int     `json:"catalog_throttled"`
}

// Manager owns the sync engines and enforces one running sync per class.
// Orders and catalog carry separate limiters because upstream quotas them
// separately.
type Manager struct {
	cfg    *config.Config
	store  store.Store
	tokens *upstream.TokenSource

	orders  *OrderSyncer
	catalog *CatalogSyncer

	ordersExec  *Executor
	catalogExec *Executor

	mu             sync.Mutex
	ordersRunning  bool
	ordersJobID    string
	catalogRunning bool
}

func NewManager(cfg *config.Config, st store.Store, reg *metrics.Registry) *Manager {
	tokens := upstream.NewTokenSource(st, cfg.Upstream.TokenURL, cfg.Upstream.ClientID, cfg.Upstream.ClientSecret, &http.Client{Timeout: cfg.Upstream.GetTimeout()})
	client := upstream.NewClient(cfg.Upstream.BaseURL, tokens, cfg.Upstream.GetTimeout())

	ordersExec := NewExecutor(NewLimiter(cfg.Sync.Orders.RatePerMinute), ExecutorConfig{
		Endpoint:    "orders",
		BackoffBase: time.Duration(cfg.Sync.Orders.BackoffBaseMs) * time.Millisecond,
		BackoffCap:  time.Duration(cfg.Sync.Orders.BackoffCapMs) * time.Millisecond,
		RetryBudget: cfg.Sync.Orders.RetryBudget,
	}, reg)
	catalogExec := NewExecutor(NewLimiter(cfg.Sync.Catalog.RatePerMinute), ExecutorConfig{
		Endpoint:    "catalog",
		BackoffBase: time.Duration(cfg.Sync.Catalog.BackoffBaseMs) * time.Millisecond,
		BackoffCap:  time.Duration(cfg.Sync.Catalog.BackoffCapMs) * time.Millisecond,
		RetryBudget: cfg.Sync.Catalog.RetryBudget,
	}, reg)

	upserter := NewMergeUpserter(st, reg)
	items := NewItemSyncer(st, client, ordersExec, reg)
	freight := NewFreightEnricher(cfg.Sync.Freight, st, client, ordersExec, upserter, items)
	channels := NewChannelNormalizer(st, 0)

	return &Manager{
		cfg:         cfg,
		store:       st,
		tokens:      tokens,
		orders:      NewOrderSyncer(cfg.Sync.Orders, cfg.Scheduler, st, client, ordersExec, upserter, freight, channels, items),
		catalog:     NewCatalogSyncer(cfg.Sync.Catalog, st, client, catalogExec, reg),
		ordersExec:  ordersExec,
		catalogExec: catalogExec,
	}
}

// StartOrderSync creates a job record and runs it in the background. Only one
// order sync runs at a time.
func (m *Manager) StartOrderSync(ctx context.Context, params OrderJobParams) (string, error) {
	m.mu.Lock()
	if m.ordersRunning {
		m.mu.Unlock()
		return "", ErrSyncRunning
	}
	m.ordersRunning = true
	jobID := uuid.New().String()
	m.ordersJobID = jobID
	m.mu.Unlock()

	encoded, err := json.Marshal(params)
	if err != nil {
		m.clearOrders()
		return "", err
	}
	job := &store.SyncJob{
		ID:     jobID,
		Status: store.JobStatusQueued,
		Params: encoded,
	}
	if err := m.store.CreateSyncJob(ctx, job); err != nil {
		m.clearOrders()
		return "", err
	}

	go func() {
		defer m.clearOrders()
		// The job outlives the HTTP request that started it.
		if err := m.orders.RunJob(context.Background(), jobID); err != nil {
			logger.Log.Error("Order sync job failed",
				zap.String("job_id", jobID),
				zap.Error(err))
		}
	}()

	return jobID, nil
}

func (m *Manager) clearOrders() {
	m.mu.Lock()
	m.ordersRunning = false
	m.ordersJobID = ""
	m.mu.Unlock()
}

// RunCatalogSync runs a catalog pass inline and returns its result. Only one
// catalog sync runs at a time.
func (m *Manager) RunCatalogSync(ctx context.Context, opts CatalogOptions) (*CatalogResult, error) {
	m.mu.Lock()
	if m.catalogRunning {
		m.mu.Unlock()
		return nil, ErrSyncRunning
	}
	m.catalogRunning = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.catalogRunning = false
		m.mu.Unlock()
	}()

	return m.catalog.Run(ctx, opts)
}

// RefreshToken forces a token exchange regardless of the cached expiry. The
// scheduler uses it to keep the refresh credential from going stale during
// long idle stretches.
func (m *Manager) RefreshToken(ctx context.Context) error {
	_, err := m.tokens.ForceRefresh(ctx)
	return err
}

// JobStatus returns the stored state of one order sync job.
func (m *Manager) JobStatus(ctx context.Context, id string) (*store.SyncJob, error) {
	return m.store.GetSyncJob(ctx, id)
}

// Status reports what is running and how hot the rate windows are.
func (m *Manager) Status() ManagerStatus {
	m.mu.Lock()
	status := ManagerStatus{
		OrdersRunning:  m.ordersRunning,
		OrdersJobID:    m.ordersJobID,
		CatalogRunning: m.catalogRunning,
	}
	m.mu.Unlock()

	status.OrdersWindowPct = m.ordersExec.Utilization()
	status.CatalogWindowPct = m.catalogExec.Utilization()
	status.OrdersThrottled = m.ordersExec.Stats().Throttled
	status.CatalogThrottled = m.catalogExec.Stats().Throttled
	return status
}
