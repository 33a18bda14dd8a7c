package store

import (
	"context"
	"database/sql"
	"time"
)

type Store interface {
	// Orders
	GetOrdersByERPIDs(ctx context.Context, erpIDs []int64) ([]*Order, error)
	UpsertOrders(ctx context.Context, orders []*Order) error
	ListOrdersNeedingFreight(ctx context.Context, start, end *time.Time, newestFirst bool, limit int) ([]*Order, error)
	ListOrdersNeedingChannel(ctx context.Context, limit int) ([]*Order, error)
	UpdateOrderChannel(ctx context.Context, erpID int64, channel string) error
	ListRecentOrdersMissingItems(ctx context.Context, since time.Time, limit int) ([]*Order, error)

	// Order items
	CountOrderItems(ctx context.Context, orderERPID int64) (int, error)
	InsertOrderItems(ctx context.Context, items []*OrderItem) error

	// Products
	GetProduct(ctx context.Context, erpID int64) (*Product, error)
	UpsertProduct(ctx context.Context, p *Product) error
	MaxProductModifiedAt(ctx context.Context) (sql.NullTime, error)

	// Sync cursors
	GetSyncCursor(ctx context.Context, key string) (*SyncCursor, error)
	SaveSyncCursor(ctx context.Context, c *SyncCursor) error

	// Jobs and logs
	CreateSyncJob(ctx context.Context, job *SyncJob) error
	GetSyncJob(ctx context.Context, id string) (*SyncJob, error)
	UpdateSyncJob(ctx context.Context, job *SyncJob) error
	AppendSyncLog(ctx context.Context, entry *SyncLogEntry) error

	// Upstream credentials
	GetCredentials(ctx context.Context) (*Credentials, error)
	SaveCredentials(ctx context.Context, c *Credentials) error

	// General
	Close() error
}
