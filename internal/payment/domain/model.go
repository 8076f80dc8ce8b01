package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Gateway transaction status values.
const (
	TransactionSuccess = "SUCCESS"
	TransactionFailed  = "FAILED"
	TransactionPending = "PENDING"
)

// Payment row status values.
const (
	PaymentCompleted = "completed"
	PaymentPending   = "pending"
	PaymentFailed    = "failed"
)

// Monthly aggregate status values.
const (
	StatusPaid    = "paid"
	StatusPartial = "partial"
	StatusPending = "pending"
	StatusOverdue = "overdue"
)

const (
	PaymentTypeRent      = "rent"
	PaymentMethodGateway = "jenga_pgw"

	MonthYearLayout = "2006-01"
)

// Transaction is a validated gateway notification. It lives only for the
// duration of one webhook call.
type Transaction struct {
	Provider      string
	Reference     string
	Date          time.Time
	Amount        decimal.Decimal
	OrderAmount   *decimal.Decimal
	Currency      string
	AccountNumber string
	AccountName   string
	Status        string
	PaymentMode   string
	Narration     string
	PhoneNumber   string
	MerchantCode  string
}

func (t Transaction) Succeeded() bool {
	return t.Status == TransactionSuccess
}

type Payment struct {
	ID                   snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	LeaseID              snowflake.ID    `json:"lease_id" gorm:"not null;index:idx_payments_lease_month,priority:1"`
	TenantID             snowflake.ID    `json:"tenant_id" gorm:"not null;index"`
	RoomID               snowflake.ID    `json:"room_id" gorm:"not null"`
	Amount               decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	Currency             string          `json:"currency" gorm:"type:text;not null"`
	PaymentDate          time.Time       `json:"payment_date" gorm:"not null"`
	PaymentMethod        string          `json:"payment_method" gorm:"type:text;not null"`
	TransactionReference string          `json:"transaction_reference" gorm:"type:varchar(191);not null;uniqueIndex:ux_payments_transaction_reference"`
	GatewayTransactionID *string         `json:"gateway_transaction_id,omitempty" gorm:"type:text"`
	PaymentType          string          `json:"payment_type" gorm:"type:text;not null"`
	Status               string          `json:"status" gorm:"type:text;not null"`
	MonthYear            string          `json:"month_year" gorm:"type:varchar(7);not null;index:idx_payments_lease_month,priority:2"`
	PhoneNumber          *string         `json:"phone_number,omitempty" gorm:"type:text"`
	Narration            *string         `json:"narration,omitempty" gorm:"type:text"`
	RecordedBy           *string         `json:"recorded_by,omitempty" gorm:"type:text"`
	CreatedAt            time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time       `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// BroadcastKey partitions live events by lease.
func (p Payment) BroadcastKey() string { return p.LeaseID.String() }

// PaymentStatus is the per (lease, month) aggregate derived from completed payments.
type PaymentStatus struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	LeaseID         snowflake.ID    `json:"lease_id" gorm:"not null;uniqueIndex:ux_payment_status_lease_month,priority:1"`
	TenantID        snowflake.ID    `json:"tenant_id" gorm:"not null"`
	RoomID          snowflake.ID    `json:"room_id" gorm:"not null"`
	MonthYear       string          `json:"month_year" gorm:"type:varchar(7);not null;uniqueIndex:ux_payment_status_lease_month,priority:2"`
	ExpectedAmount  decimal.Decimal `json:"expected_amount" gorm:"type:numeric(12,2);not null"`
	PaidAmount      decimal.Decimal `json:"paid_amount" gorm:"type:numeric(12,2);not null"`
	Status          string          `json:"status" gorm:"type:text;not null"`
	DueDate         time.Time       `json:"due_date" gorm:"not null"`
	LastPaymentDate *time.Time      `json:"last_payment_date,omitempty"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"not null"`
}

func (PaymentStatus) TableName() string { return "payment_status" }

func (s PaymentStatus) BroadcastKey() string { return s.LeaseID.String() }

// MonthYear buckets t into its UTC calendar month.
func MonthYear(t time.Time) string {
	return t.UTC().Format(MonthYearLayout)
}
