package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ChannelUnknown is the sentinel written when no sales channel could be
// derived. Merge rules treat it as "not set".
const ChannelUnknown = "Outros"

// Order is a locally stored commerce order keyed by the upstream identifier.
type Order struct {
	ERPID         int64           `db:"erp_id"`
	OrderNumber   sql.NullInt64   `db:"order_number"`
	Status        sql.NullInt64   `db:"status"`
	CreatedDate   sql.NullTime    `db:"created_date"`
	GrossTotal    sql.NullFloat64 `db:"gross_total"`
	ProductsTotal sql.NullFloat64 `db:"products_total"`
	FreightValue  sql.NullFloat64 `db:"freight_value"`
	DiscountValue sql.NullFloat64 `db:"discount_value"`
	OtherCharges  sql.NullFloat64 `db:"other_charges"`
	Channel       sql.NullString  `db:"channel"`
	CustomerName  sql.NullString  `db:"customer_name"`
	City          sql.NullString  `db:"city"`
	State         sql.NullString  `db:"state"`
	RawPayload    json.RawMessage `db:"raw_payload"`
	IsEnriched    sql.NullBool    `db:"is_enriched"`
	FirstSeenAt   time.Time       `db:"first_seen_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
	LastCheckedAt sql.NullTime    `db:"last_checked_at"`
}

// OrderItem rows are insert-only; item sync never mutates quantities in place.
type OrderItem struct {
	ID          int64           `db:"id"`
	OrderERPID  int64           `db:"order_erp_id"`
	ProductID   sql.NullInt64   `db:"product_id"`
	ProductCode sql.NullString  `db:"product_code"`
	Description string          `db:"description"`
	Quantity    float64         `db:"quantity"`
	UnitPrice   float64         `db:"unit_price"`
	TotalPrice  float64         `db:"total_price"`
	CreatedAt   time.Time       `db:"created_at"`
}

type Product struct {
	ERPID              int64           `db:"erp_id"`
	SKU                sql.NullString  `db:"sku"`
	Name               string          `db:"name"`
	Unit               sql.NullString  `db:"unit"`
	Price              sql.NullFloat64 `db:"price"`
	PromoPrice         sql.NullFloat64 `db:"promo_price"`
	StockOnHand        sql.NullFloat64 `db:"stock_on_hand"`
	StockReserved      sql.NullFloat64 `db:"stock_reserved"`
	StockAvailable     sql.NullFloat64 `db:"stock_available"`
	Status             sql.NullString  `db:"status"`
	Type               sql.NullString  `db:"type"`
	GTIN               sql.NullString  `db:"gtin"`
	SupplierCode       sql.NullString  `db:"supplier_code"`
	PackagingQty       sql.NullFloat64 `db:"packaging_qty"`
	UpstreamCreatedAt  sql.NullTime    `db:"upstream_created_at"`
	UpstreamModifiedAt sql.NullTime    `db:"upstream_modified_at"`
	RawPayload         json.RawMessage `db:"raw_payload"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

// SyncCursor holds the incremental watermark for one named sync stream.
// LatestSeenModified never regresses.
type SyncCursor struct {
	Key                string       `db:"cursor_key"`
	UpdatedSince       sql.NullTime `db:"updated_since"`
	LatestSeenModified sql.NullTime `db:"latest_seen_modified"`
	UpdatedAt          time.Time    `db:"updated_at"`
}

const (
	JobStatusQueued   = "queued"
	JobStatusRunning  = "running"
	JobStatusFinished = "finished"
	JobStatusError    = "error"
)

type SyncJob struct {
	ID            string          `db:"id"`
	Status        string          `db:"status"`
	Params        json.RawMessage `db:"params"`
	StartedAt     sql.NullTime    `db:"started_at"`
	FinishedAt    sql.NullTime    `db:"finished_at"`
	TotalRequests int64           `db:"total_requests"`
	TotalRows     int64           `db:"total_rows"`
	ErrorMessage  sql.NullString  `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
}

type SyncLogEntry struct {
	JobID   sql.NullString  `db:"job_id"`
	Level   string          `db:"level"`
	Message string          `db:"message"`
	Meta    json.RawMessage `db:"meta"`
}

// Credentials is the single upstream credential row (one account per deploy).
type Credentials struct {
	AccessToken  sql.NullString `db:"access_token"`
	RefreshToken sql.NullString `db:"refresh_token"`
	ExpiresAt    sql.NullTime   `db:"expires_at"`
	Scope        sql.NullString `db:"scope"`
	TokenType    sql.NullString `db:"token_type"`
}
