package domain

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentflow/pkg/db/pagination"
	"gorm.io/gorm"
)

// Outcome values. Everything except OutcomeReceived is terminal.
const (
	OutcomeReceived                = "received"
	OutcomeRejectedUnknownProvider = "rejected_unknown_provider"
	OutcomeRejectedBadSignature    = "rejected_bad_signature"
	OutcomeRejectedInvalidPayload  = "rejected_invalid_payload"
	OutcomeRejectedUnknownAccount  = "rejected_unknown_account"
	OutcomeRejectedLeaseNotFound   = "rejected_lease_not_found"
	OutcomeDuplicateSkipped        = "duplicate_skipped"
	OutcomeNonSuccessSkipped       = "non_success_skipped"
	OutcomeProcessed               = "processed"
	OutcomeFailed                  = "failed"
)

// Payload encodings. Bodies that are not clean UTF-8 text are stored
// base64 encoded so the text column accepts them.
const (
	EncodingUTF8   = "utf8"
	EncodingBase64 = "base64"
)

var ErrNotFound = errors.New("ipn_log_not_found")

// Entry is one inbound webhook call. Rows are never deleted.
type Entry struct {
	ID                   snowflake.ID  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider             string        `json:"provider" gorm:"type:text;not null"`
	TransactionReference *string       `json:"transaction_reference,omitempty" gorm:"type:varchar(191);index"`
	RawPayload           string        `json:"raw_payload" gorm:"type:text;not null"`
	PayloadEncoding      string        `json:"payload_encoding" gorm:"type:text;not null;default:utf8"`
	PayloadTruncated     bool          `json:"payload_truncated" gorm:"not null;default:false"`
	Signature            *string       `json:"signature,omitempty" gorm:"type:text"`
	Verified             bool          `json:"verified" gorm:"not null;default:false"`
	Processed            bool          `json:"processed" gorm:"not null;default:false"`
	Outcome              string        `json:"outcome" gorm:"type:text;not null"`
	ErrorMessage         *string       `json:"error_message,omitempty" gorm:"type:text"`
	RemoteAddr           string        `json:"remote_addr,omitempty" gorm:"type:text"`
	ReplayOf             *snowflake.ID `json:"replay_of,omitempty"`
	CreatedAt            time.Time     `json:"created_at" gorm:"not null;index"`
	ProcessedAt          *time.Time    `json:"processed_at,omitempty"`
}

func (Entry) TableName() string { return "ipn_logs" }

// Body returns the payload bytes as they were received.
func (e Entry) Body() ([]byte, error) {
	if e.PayloadEncoding == EncodingBase64 {
		return base64.StdEncoding.DecodeString(e.RawPayload)
	}
	return []byte(e.RawPayload), nil
}

type BeginRequest struct {
	Provider   string
	RawPayload []byte
	// Truncated marks a body that was cut off at the read limit.
	Truncated  bool
	Signature  string
	RemoteAddr string
	ReplayOf   *snowflake.ID
}

type ListFilter struct {
	Outcome   string
	Reference string
	Processed *bool
	Cursor    *pagination.Cursor
	Limit     int
}

type ListRequest struct {
	Outcome   string
	Reference string
	Processed *bool
	pagination.Pagination
}

type ListResponse struct {
	Entries  []Entry             `json:"entries"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Entry, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Entry, error)
}

// Service records the progress of each webhook call. Write methods never
// return errors; storage failures are logged and counted only.
type Service interface {
	Begin(ctx context.Context, req BeginRequest) snowflake.ID
	MarkVerified(ctx context.Context, id snowflake.ID)
	MarkParsed(ctx context.Context, id snowflake.ID, reference string)
	MarkRejected(ctx context.Context, id snowflake.ID, outcome string, reason string)
	MarkProcessed(ctx context.Context, id snowflake.ID, outcome string, note string)

	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
}
