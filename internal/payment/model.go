package payment

import (
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	StatusAuthorized = "authorized"
	StatusCapturing  = "capturing"
	StatusCaptured   = "captured"
	StatusFailed     = "failed"
)

// Payment is the escrow record of a maintenance job. There is at most one
// per job.
type Payment struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MaintenanceJobID uuid.UUID `gorm:"type:uuid;uniqueIndex:uq_payments_job;not null" json:"maintenance_job_id"`
	PayerID          uuid.UUID `gorm:"type:uuid;index;not null" json:"payer_id"`
	PayeeID          uuid.UUID `gorm:"type:uuid;index;not null" json:"payee_id"` // maintenance provider

	Amount     int64  `gorm:"not null" json:"amount"`
	Commission int64  `gorm:"not null;default:0" json:"commission"`
	NetAmount  int64  `gorm:"not null;default:0" json:"net_amount"`
	Currency   string `gorm:"type:text;not null;default:'CLP'" json:"currency"`
	Method     Method `gorm:"type:text;not null" json:"method"`
	MethodID   string `gorm:"type:text;not null;default:''" json:"-"`

	Status          string `gorm:"type:text;index;not null" json:"status"`
	CaptureAttempts int    `gorm:"not null;default:0" json:"capture_attempts"`

	AuthorizationRef *string `gorm:"type:text" json:"authorization_ref,omitempty"`
	TransactionRef   *string `gorm:"type:text" json:"transaction_ref,omitempty"`
	PaymentURL       *string `gorm:"type:text" json:"payment_url,omitempty"`
	LastError        *string `gorm:"type:text" json:"last_error,omitempty"`

	AuthorizedAt *time.Time `gorm:"type:timestamptz" json:"authorized_at,omitempty"`
	CapturedAt   *time.Time `gorm:"type:timestamptz" json:"captured_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// Commission splits amount into the platform commission and the provider's
// net, rounding the commission to the nearest unit.
func Commission(amount int64, percent float64) (commission, net int64) {
	commission = int64(math.Round(float64(amount) * percent / 100))
	return commission, amount - commission
}
