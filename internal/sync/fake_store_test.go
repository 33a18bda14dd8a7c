package sync

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"erp-sync-service/internal/store"
)

// fakeStore is an in-memory store.Store. Methods a test never touches fall
// through to the embedded nil interface and panic loudly.
type fakeStore struct {
	store.Store

	orders  map[int64]*store.Order
	items   map[int64][]*store.OrderItem
	prods   map[int64]*store.Product
	cursors map[string]*store.SyncCursor
	jobs    map[string]*store.SyncJob
	logs    []*store.SyncLogEntry
	creds   *store.Credentials

	maxModified sql.NullTime
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:  make(map[int64]*store.Order),
		items:   make(map[int64][]*store.OrderItem),
		prods:   make(map[int64]*store.Product),
		cursors: make(map[string]*store.SyncCursor),
		jobs:    make(map[string]*store.SyncJob),
	}
}

func (f *fakeStore) GetOrdersByERPIDs(_ context.Context, erpIDs []int64) ([]*store.Order, error) {
	var out []*store.Order
	for _, id := range erpIDs {
		if row, ok := f.orders[id]; ok {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertOrders(_ context.Context, orders []*store.Order) error {
	for _, row := range orders {
		clone := *row
		f.orders[row.ERPID] = &clone
	}
	return nil
}

func (f *fakeStore) ListOrdersNeedingFreight(_ context.Context, start, end *time.Time, newestFirst bool, limit int) ([]*store.Order, error) {
	var out []*store.Order
	for _, row := range f.orders {
		enriched := row.IsEnriched.Valid && row.IsEnriched.Bool
		hasFreight := row.FreightValue.Valid && row.FreightValue.Float64 > 0
		if enriched || hasFreight {
			continue
		}
		if start != nil && row.CreatedDate.Valid && row.CreatedDate.Time.Before(*start) {
			continue
		}
		if end != nil && row.CreatedDate.Valid && row.CreatedDate.Time.After(*end) {
			continue
		}
		clone := *row
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedDate.Time.After(out[j].CreatedDate.Time)
		}
		return out[i].CreatedDate.Time.Before(out[j].CreatedDate.Time)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) ListOrdersNeedingChannel(_ context.Context, limit int) ([]*store.Order, error) {
	var out []*store.Order
	for _, row := range f.orders {
		if row.Channel.Valid && row.Channel.String != store.ChannelUnknown {
			continue
		}
		clone := *row
		out = append(out, &clone)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateOrderChannel(_ context.Context, erpID int64, channel string) error {
	if row, ok := f.orders[erpID]; ok {
		row.Channel = sql.NullString{String: channel, Valid: true}
	}
	return nil
}

func (f *fakeStore) ListRecentOrdersMissingItems(_ context.Context, since time.Time, limit int) ([]*store.Order, error) {
	var out []*store.Order
	for _, row := range f.orders {
		if len(f.items[row.ERPID]) > 0 {
			continue
		}
		if row.CreatedDate.Valid && row.CreatedDate.Time.Before(since) {
			continue
		}
		clone := *row
		out = append(out, &clone)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) CountOrderItems(_ context.Context, orderERPID int64) (int, error) {
	return len(f.items[orderERPID]), nil
}

func (f *fakeStore) InsertOrderItems(_ context.Context, items []*store.OrderItem) error {
	for _, item := range items {
		f.items[item.OrderERPID] = append(f.items[item.OrderERPID], item)
	}
	return nil
}

func (f *fakeStore) GetProduct(_ context.Context, erpID int64) (*store.Product, error) {
	if row, ok := f.prods[erpID]; ok {
		clone := *row
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertProduct(_ context.Context, p *store.Product) error {
	clone := *p
	f.prods[p.ERPID] = &clone
	return nil
}

func (f *fakeStore) MaxProductModifiedAt(_ context.Context) (sql.NullTime, error) {
	return f.maxModified, nil
}

func (f *fakeStore) GetSyncCursor(_ context.Context, key string) (*store.SyncCursor, error) {
	if c, ok := f.cursors[key]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeStore) SaveSyncCursor(_ context.Context, c *store.SyncCursor) error {
	existing, ok := f.cursors[c.Key]
	if ok && existing.LatestSeenModified.Valid && c.LatestSeenModified.Valid &&
		existing.LatestSeenModified.Time.After(c.LatestSeenModified.Time) {
		// Mirrors the GREATEST() clause: the watermark never regresses.
		c.LatestSeenModified = existing.LatestSeenModified
	}
	clone := *c
	f.cursors[c.Key] = &clone
	return nil
}

func (f *fakeStore) CreateSyncJob(_ context.Context, job *store.SyncJob) error {
	clone := *job
	f.jobs[job.ID] = &clone
	return nil
}

func (f *fakeStore) GetSyncJob(_ context.Context, id string) (*store.SyncJob, error) {
	if job, ok := f.jobs[id]; ok {
		clone := *job
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeStore) UpdateSyncJob(_ context.Context, job *store.SyncJob) error {
	clone := *job
	f.jobs[job.ID] = &clone
	return nil
}

func (f *fakeStore) AppendSyncLog(_ context.Context, entry *store.SyncLogEntry) error {
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeStore) GetCredentials(_ context.Context) (*store.Credentials, error) {
	if f.creds == nil {
		return nil, nil
	}
	clone := *f.creds
	return &clone, nil
}

func (f *fakeStore) SaveCredentials(_ context.Context, c *store.Credentials) error {
	clone := *c
	f.creds = &clone
	return nil
}

func (f *fakeStore) Close() error { return nil }
