package domain

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentflow/pkg/db/pagination"
	"gorm.io/gorm"
)

// GatewayAdapter authenticates and decodes notifications from one gateway.
type GatewayAdapter interface {
	Provider() string
	// SignatureHeader names the header carrying the request signature.
	SignatureHeader() string
	// Signature returns the signature presented in headers, if any.
	Signature(headers http.Header) string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Transaction, error)
}

// Broadcaster notifies live observers. Delivery is fire and forget.
type Broadcaster interface {
	Broadcast(ctx context.Context, kind string, payload any)
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Payment, error)
	// InsertIfAbsent reports false when a payment with the same
	// transaction reference already exists.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, at time.Time) error
	SumCompleted(ctx context.Context, db *gorm.DB, leaseID snowflake.ID, monthYear string) (*CompletedTotals, error)
	UpsertStatus(ctx context.Context, db *gorm.DB, status *PaymentStatus) error
	FindStatus(ctx context.Context, db *gorm.DB, leaseID snowflake.ID, monthYear string) (*PaymentStatus, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Payment, error)
	ListStatuses(ctx context.Context, db *gorm.DB, filter StatusFilter) ([]PaymentStatus, error)
	SummarizeStatuses(ctx context.Context, db *gorm.DB, monthYear string) ([]StatusSummaryRow, error)
}

// CompletedTotals sums the completed payments of one lease and month.
type CompletedTotals struct {
	Paid            decimal.Decimal
	LastPaymentDate *time.Time
}

type ListFilter struct {
	Status    string
	MonthYear string
	TenantID  snowflake.ID
	LeaseID   snowflake.ID
	Cursor    *pagination.Cursor
	Limit     int
}

type StatusFilter struct {
	MonthYear string
	LeaseID   snowflake.ID
	Status    string
	Limit     int
}

type StatusSummaryRow struct {
	Status        string          `json:"status"`
	Count         int64           `json:"count"`
	TotalExpected decimal.Decimal `json:"total_expected"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
}

type ListRequest struct {
	Status    string
	MonthYear string
	TenantID  string
	LeaseID   string
	pagination.Pagination
}

type ListResponse struct {
	Payments []Payment          `json:"payments"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// RecordRequest is a payment entered by staff, such as cash at the office.
type RecordRequest struct {
	LeaseID              string          `json:"lease_id" binding:"required"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	PaymentDate          time.Time       `json:"payment_date"`
	PaymentMethod        string          `json:"payment_method" binding:"required"`
	PaymentType          string          `json:"payment_type"`
	TransactionReference string          `json:"transaction_reference" binding:"required"`
	Narration            string          `json:"narration"`
}

type RecordResult struct {
	Payment   *Payment       `json:"payment"`
	Status    *PaymentStatus `json:"payment_status,omitempty"`
	Duplicate bool           `json:"duplicate"`
}

type Summary struct {
	MonthYear     string             `json:"month_year"`
	Rows          []StatusSummaryRow `json:"statuses"`
	TotalExpected decimal.Decimal    `json:"total_expected"`
	TotalPaid     decimal.Decimal    `json:"total_paid"`
}

// Service is the staff-facing payment API.
type Service interface {
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	Get(ctx context.Context, id string) (*Payment, error)
	Record(ctx context.Context, req RecordRequest) (*RecordResult, error)
	CorrectStatus(ctx context.Context, id string, status string) (*Payment, error)
	Summary(ctx context.Context, monthYear string) (*Summary, error)
	ListStatuses(ctx context.Context, monthYear string, leaseID string, status string) ([]PaymentStatus, error)
	Recompute(ctx context.Context, leaseID string, monthYear string) (*PaymentStatus, error)
	Receipt(ctx context.Context, id string) (io.Reader, error)
}

// RequestMeta carries transport details recorded with each webhook attempt.
type RequestMeta struct {
	RemoteAddr string
	ReplayOf   *snowflake.ID
	// Truncated is set when the body hit the read limit.
	Truncated bool
}

type IngestResult struct {
	LogID   snowflake.ID   `json:"log_id"`
	Outcome string         `json:"outcome"`
	Payment *Payment       `json:"payment,omitempty"`
	Status  *PaymentStatus `json:"payment_status,omitempty"`
}

// WebhookService runs the inbound notification pipeline.
type WebhookService interface {
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header, meta RequestMeta) (*IngestResult, error)
	Replay(ctx context.Context, logID string) (*IngestResult, error)
}
