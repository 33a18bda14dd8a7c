package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"erp-sync-service/internal/database"
)

type MySQLStore struct {
	db *database.Database
}

func NewMySQLStore(db *database.Database) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

const orderColumns = `erp_id, order_number, status, created_date, gross_total, products_total,
	freight_value, discount_value, other_charges, channel, customer_name, city, state,
	raw_payload, is_enriched, first_seen_at, updated_at, last_checked_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ERPID,
		&o.OrderNumber,
		&o.Status,
		&o.CreatedDate,
		&o.GrossTotal,
		&o.ProductsTotal,
		&o.FreightValue,
		&o.DiscountValue,
		&o.OtherCharges,
		&o.Channel,
		&o.CustomerName,
		&o.City,
		&o.State,
		&o.RawPayload,
		&o.IsEnriched,
		&o.FirstSeenAt,
		&o.UpdatedAt,
		&o.LastCheckedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *MySQLStore) GetOrdersByERPIDs(ctx context.Context, erpIDs []int64) ([]*Order, error) {
	if len(erpIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(erpIDs))
	args := make([]interface{}, len(erpIDs))
	for i, id := range erpIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT %s FROM orders WHERE erp_id IN (%s)`,
		orderColumns, strings.Join(placeholders, ","))

	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *MySQLStore) UpsertOrders(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}

	query := `INSERT INTO orders (erp_id, order_number, status, created_date, gross_total,
			products_total, freight_value, discount_value, other_charges, channel,
			customer_name, city, state, raw_payload, is_enriched, first_seen_at, updated_at, last_checked_at)
		  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW(), NOW())
		  ON DUPLICATE KEY UPDATE
		  order_number = VALUES(order_number),
		  status = VALUES(status),
		  created_date = VALUES(created_date),
		  gross_total = VALUES(gross_total),
		  products_total = VALUES(products_total),
		  freight_value = VALUES(freight_value),
		  discount_value = VALUES(discount_value),
		  other_charges = VALUES(other_charges),
		  channel = VALUES(channel),
		  customer_name = VALUES(customer_name),
		  city = VALUES(city),
		  state = VALUES(state),
		  raw_payload = VALUES(raw_payload),
		  is_enriched = VALUES(is_enriched),
		  updated_at = NOW(),
		  last_checked_at = NOW()`

	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, o := range orders {
			_, err := stmt.ExecContext(ctx,
				o.ERPID,
				o.OrderNumber,
				o.Status,
				o.CreatedDate,
				o.GrossTotal,
				o.ProductsTotal,
				o.FreightValue,
				o.DiscountValue,
				o.OtherCharges,
				o.Channel,
				o.CustomerName,
				o.City,
				o.State,
				o.RawPayload,
				o.IsEnriched,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert order %d: %w", o.ERPID, err)
			}
		}
		return nil
	})
}

func (s *MySQLStore) ListOrdersNeedingFreight(ctx context.Context, start, end *time.Time, newestFirst bool, limit int) ([]*Order, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + orderColumns + ` FROM orders
		WHERE (freight_value IS NULL OR freight_value = 0 OR is_enriched IS NULL OR is_enriched = FALSE)`)

	var args []interface{}
	if start != nil {
		sb.WriteString(" AND created_date >= ?")
		args = append(args, *start)
	}
	if end != nil {
		sb.WriteString(" AND created_date <= ?")
		args = append(args, *end)
	}

	if newestFirst {
		sb.WriteString(" ORDER BY created_date DESC")
	} else {
		sb.WriteString(" ORDER BY created_date ASC")
	}
	sb.WriteString(" LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.DB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *MySQLStore) ListOrdersNeedingChannel(ctx context.Context, limit int) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		  WHERE channel IS NULL OR channel = '' OR channel = ?
		  ORDER BY created_date DESC LIMIT ?`

	rows, err := s.db.DB.QueryContext(ctx, query, ChannelUnknown, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *MySQLStore) UpdateOrderChannel(ctx context.Context, erpID int64, channel string) error {
	query := `UPDATE orders SET channel = ?, updated_at = NOW() WHERE erp_id = ?`
	_, err := s.db.DB.ExecContext(ctx, query, channel, erpID)
	return err
}

func (s *MySQLStore) ListRecentOrdersMissingItems(ctx context.Context, since time.Time, limit int) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o
		  WHERE o.created_date >= ?
		    AND NOT EXISTS (SELECT 1 FROM order_items i WHERE i.order_erp_id = o.erp_id)
		  ORDER BY o.created_date DESC LIMIT ?`

	rows, err := s.db.DB.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *MySQLStore) CountOrderItems(ctx context.Context, orderERPID int64) (int, error) {
	var count int
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_items WHERE order_erp_id = ?`, orderERPID).Scan(&count)
	return count, err
}

func (s *MySQLStore) InsertOrderItems(ctx context.Context, items []*OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `INSERT INTO order_items (order_erp_id, product_id, product_code, description,
			quantity, unit_price, total_price, created_at)
		  VALUES (?, ?, ?, ?, ?, ?, ?, NOW())`

	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, item := range items {
			_, err := stmt.ExecContext(ctx,
				item.OrderERPID,
				item.ProductID,
				item.ProductCode,
				item.Description,
				item.Quantity,
				item.UnitPrice,
				item.TotalPrice,
			)
			if err != nil {
				return fmt.Errorf("failed to insert item for order %d: %w", item.OrderERPID, err)
			}
		}
		return nil
	})
}

func (s *MySQLStore) GetProduct(ctx context.Context, erpID int64) (*Product, error) {
	query := `SELECT erp_id, sku, name, unit, price, promo_price, stock_on_hand, stock_reserved,
			stock_available, status, type, gtin, supplier_code, packaging_qty,
			upstream_created_at, upstream_modified_at, raw_payload, updated_at
		  FROM products WHERE erp_id = ?`

	row := s.db.DB.QueryRowContext(ctx, query, erpID)

	var p Product
	err := row.Scan(
		&p.ERPID,
		&p.SKU,
		&p.Name,
		&p.Unit,
		&p.Price,
		&p.PromoPrice,
		&p.StockOnHand,
		&p.StockReserved,
		&p.StockAvailable,
		&p.Status,
		&p.Type,
		&p.GTIN,
		&p.SupplierCode,
		&p.PackagingQty,
		&p.UpstreamCreatedAt,
		&p.UpstreamModifiedAt,
		&p.RawPayload,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *MySQLStore) UpsertProduct(ctx context.Context, p *Product) error {
	query := `INSERT INTO products (erp_id, sku, name, unit, price, promo_price, stock_on_hand,
			stock_reserved, stock_available, status, type, gtin, supplier_code, packaging_qty,
			upstream_created_at, upstream_modified_at, raw_payload, updated_at)
		  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
		  ON DUPLICATE KEY UPDATE
		  sku = VALUES(sku),
		  name = VALUES(name),
		  unit = VALUES(unit),
		  price = VALUES(price),
		  promo_price = VALUES(promo_price),
		  stock_on_hand = VALUES(stock_on_hand),
		  stock_reserved = VALUES(stock_reserved),
		  stock_available = VALUES(stock_available),
		  status = VALUES(status),
		  type = VALUES(type),
		  gtin = VALUES(gtin),
		  supplier_code = VALUES(supplier_code),
		  packaging_qty = VALUES(packaging_qty),
		  upstream_created_at = VALUES(upstream_created_at),
		  upstream_modified_at = VALUES(upstream_modified_at),
		  raw_payload = VALUES(raw_payload),
		  updated_at = NOW()`

	_, err := s.db.DB.ExecContext(ctx, query,
		p.ERPID,
		p.SKU,
		p.Name,
		p.Unit,
		p.Price,
		p.PromoPrice,
		p.StockOnHand,
		p.StockReserved,
		p.StockAvailable,
		p.Status,
		p.Type,
		p.GTIN,
		p.SupplierCode,
		p.PackagingQty,
		p.UpstreamCreatedAt,
		p.UpstreamModifiedAt,
		p.RawPayload,
	)
	return err
}

func (s *MySQLStore) MaxProductModifiedAt(ctx context.Context) (sql.NullTime, error) {
	var max sql.NullTime
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT MAX(upstream_modified_at) FROM products`).Scan(&max)
	return max, err
}

func (s *MySQLStore) GetSyncCursor(ctx context.Context, key string) (*SyncCursor, error) {
	query := `SELECT cursor_key, updated_since, latest_seen_modified, updated_at
		  FROM sync_cursors WHERE cursor_key = ?`

	row := s.db.DB.QueryRowContext(ctx, query, key)

	var c SyncCursor
	err := row.Scan(&c.Key, &c.UpdatedSince, &c.LatestSeenModified, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MySQLStore) SaveSyncCursor(ctx context.Context, c *SyncCursor) error {
	// GREATEST keeps the watermark monotone even if two runs race.
	query := `INSERT INTO sync_cursors (cursor_key, updated_since, latest_seen_modified, updated_at)
		  VALUES (?, ?, ?, NOW())
		  ON DUPLICATE KEY UPDATE
		  updated_since = VALUES(updated_since),
		  latest_seen_modified = GREATEST(COALESCE(latest_seen_modified, VALUES(latest_seen_modified)), COALESCE(VALUES(latest_seen_modified), latest_seen_modified)),
		  updated_at = NOW()`

	_, err := s.db.DB.ExecContext(ctx, query, c.Key, c.UpdatedSince, c.LatestSeenModified)
	return err
}

func (s *MySQLStore) CreateSyncJob(ctx context.Context, job *SyncJob) error {
	query := `INSERT INTO sync_jobs (id, status, params, total_requests, total_rows, created_at)
		  VALUES (?, ?, ?, 0, 0, NOW())`
	_, err := s.db.DB.ExecContext(ctx, query, job.ID, job.Status, job.Params)
	return err
}

func (s *MySQLStore) GetSyncJob(ctx context.Context, id string) (*SyncJob, error) {
	query := `SELECT id, status, params, started_at, finished_at, total_requests, total_rows, error_message, created_at
		  FROM sync_jobs WHERE id = ?`

	row := s.db.DB.QueryRowContext(ctx, query, id)

	var job SyncJob
	err := row.Scan(
		&job.ID,
		&job.Status,
		&job.Params,
		&job.StartedAt,
		&job.FinishedAt,
		&job.TotalRequests,
		&job.TotalRows,
		&job.ErrorMessage,
		&job.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *MySQLStore) UpdateSyncJob(ctx context.Context, job *SyncJob) error {
	query := `UPDATE sync_jobs SET status = ?, started_at = ?, finished_at = ?,
			total_requests = ?, total_rows = ?, error_message = ?
		  WHERE id = ?`
	_, err := s.db.DB.ExecContext(ctx, query,
		job.Status,
		job.StartedAt,
		job.FinishedAt,
		job.TotalRequests,
		job.TotalRows,
		job.ErrorMessage,
		job.ID,
	)
	return err
}

func (s *MySQLStore) AppendSyncLog(ctx context.Context, entry *SyncLogEntry) error {
	query := `INSERT INTO sync_logs (job_id, level, message, meta, created_at)
		  VALUES (?, ?, ?, ?, NOW())`
	_, err := s.db.DB.ExecContext(ctx, query, entry.JobID, entry.Level, entry.Message, entry.Meta)
	return err
}

func (s *MySQLStore) GetCredentials(ctx context.Context) (*Credentials, error) {
	query := `SELECT access_token, refresh_token, expires_at, scope, token_type
		  FROM upstream_credentials WHERE id = 1`

	row := s.db.DB.QueryRowContext(ctx, query)

	var c Credentials
	err := row.Scan(&c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.Scope, &c.TokenType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MySQLStore) SaveCredentials(ctx context.Context, c *Credentials) error {
	query := `INSERT INTO upstream_credentials (id, access_token, refresh_token, expires_at, scope, token_type, updated_at)
		  VALUES (1, ?, ?, ?, ?, ?, NOW())
		  ON DUPLICATE KEY UPDATE
		  access_token = VALUES(access_token),
		  refresh_token = VALUES(refresh_token),
		  expires_at = VALUES(expires_at),
		  scope = VALUES(scope),
		  token_type = VALUES(token_type),
		  updated_at = NOW()`

	_, err := s.db.DB.ExecContext(ctx, query, c.AccessToken, c.RefreshToken, c.ExpiresAt, c.Scope, c.TokenType)
	return err
}
