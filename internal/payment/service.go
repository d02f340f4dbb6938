package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("payment not found")

type AuthorizeRequest struct {
	JobID    uuid.UUID
	PayerID  uuid.UUID
	PayeeID  uuid.UUID
	Amount   int64
	Method   string
	MethodID string
}

type AuthorizeResult struct {
	Success    bool
	PaymentID  string
	PayableURL string
	Error      string
}

type CaptureResult struct {
	Success       bool
	TransactionID string
	Error         string
}

// Service keeps one payment per maintenance job and drives it through the
// processor. Declines come back as results with Success false; the error
// return is reserved for storage failures.
type Service struct {
	DB                 *gorm.DB
	Processor          Processor
	CommissionPercent  float64
	MaxCaptureAttempts int
	Currency           string
	Log                logrus.FieldLogger
}

func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	method, err := ParseMethod(req.Method)
	if err != nil {
		return AuthorizeResult{Error: err.Error()}, nil
	}
	if req.Amount <= 0 {
		return AuthorizeResult{Error: "amount must be positive"}, nil
	}

	existing, err := s.Status(ctx, req.JobID)
	switch {
	case err == nil && existing.Status != StatusFailed:
		return authorized(existing), nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return AuthorizeResult{}, err
	}

	p := Payment{
		ID:               uuid.New(),
		MaintenanceJobID: req.JobID,
		PayerID:          req.PayerID,
		PayeeID:          req.PayeeID,
		Amount:           req.Amount,
		Currency:         s.currency(),
		Method:           method,
		MethodID:         req.MethodID,
	}
	if existing != nil {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	}

	resp, perr := s.Processor.Authorize(ctx, Authorization{
		Reference: req.JobID.String(),
		PayerID:   req.PayerID,
		Amount:    req.Amount,
		Currency:  p.Currency,
		Method:    method,
		MethodID:  req.MethodID,
	})
	now := time.Now()
	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if perr != nil {
		msg := perr.Error()
		p.Status = StatusFailed
		p.LastError = &msg
	} else {
		p.Status = StatusAuthorized
		p.AuthorizationRef = &resp.AuthorizationID
		if resp.PaymentURL != "" {
			p.PaymentURL = &resp.PaymentURL
		}
		p.AuthorizedAt = &now
	}

	// a failed row may be replaced; an authorized one never is
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "maintenance_job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"payer_id", "payee_id", "amount", "currency", "method", "method_id", "status",
			"authorization_ref", "payment_url", "last_error", "authorized_at", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "payments", Name: "status"}, Value: StatusFailed},
		}},
	}).Create(&p)
	if res.Error != nil {
		return AuthorizeResult{}, res.Error
	}
	if res.RowsAffected == 0 {
		// lost a race to another authorization of the same job
		cur, err := s.Status(ctx, req.JobID)
		if err != nil {
			return AuthorizeResult{}, err
		}
		return authorized(cur), nil
	}

	log := s.logger().WithFields(logrus.Fields{"job_id": req.JobID, "payment_id": p.ID, "amount": p.Amount})
	if perr != nil {
		log.WithError(perr).Warn("payment authorization declined")
		return AuthorizeResult{Error: perr.Error()}, nil
	}
	log.Info("payment authorized")
	return authorized(&p), nil
}

// Capture settles the job's authorized payment. Capturing a captured payment
// returns its original transaction id.
func (s *Service) Capture(ctx context.Context, jobID uuid.UUID) (CaptureResult, error) {
	p, err := s.Status(ctx, jobID)
	if errors.Is(err, ErrNotFound) {
		return CaptureResult{Error: "no authorized payment for job"}, nil
	}
	if err != nil {
		return CaptureResult{}, err
	}

	switch p.Status {
	case StatusCaptured:
		return CaptureResult{Success: true, TransactionID: deref(p.TransactionRef)}, nil
	case StatusAuthorized:
	default:
		return CaptureResult{Error: fmt.Sprintf("payment is %s", p.Status)}, nil
	}

	// claim the row so concurrent captures cannot both reach the processor
	res := s.DB.WithContext(ctx).Model(&Payment{}).
		Where("id=? AND status=?", p.ID, StatusAuthorized).
		Updates(map[string]any{
			"status":           StatusCapturing,
			"capture_attempts": gorm.Expr("capture_attempts + 1"),
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return CaptureResult{}, res.Error
	}
	if res.RowsAffected == 0 {
		return CaptureResult{Error: "payment capture already in progress"}, nil
	}
	attempts := p.CaptureAttempts + 1

	log := s.logger().WithFields(logrus.Fields{"job_id": jobID, "payment_id": p.ID, "attempt": attempts})
	txID, perr := s.Processor.Capture(ctx, CaptureRequest{
		Reference:       jobID.String(),
		AuthorizationID: deref(p.AuthorizationRef),
		Amount:          p.Amount,
		Currency:        p.Currency,
		Method:          p.Method,
	})

	// the row must leave capturing even when ctx was cancelled mid-call
	db := s.DB.WithContext(context.WithoutCancel(ctx))
	if perr != nil {
		next := StatusAuthorized
		if attempts >= s.maxCaptureAttempts() {
			next = StatusFailed
		}
		if err := db.Model(&Payment{}).
			Where("id=? AND status=?", p.ID, StatusCapturing).
			Updates(map[string]any{"status": next, "last_error": perr.Error(), "updated_at": time.Now()}).Error; err != nil {
			return CaptureResult{}, err
		}
		log.WithError(perr).WithField("status", next).Warn("payment capture declined")
		return CaptureResult{Error: perr.Error()}, nil
	}

	commission, net := Commission(p.Amount, s.commissionPercent())
	now := time.Now()
	if err := db.Model(&Payment{}).
		Where("id=? AND status=?", p.ID, StatusCapturing).
		Updates(map[string]any{
			"status":          StatusCaptured,
			"transaction_ref": txID,
			"commission":      commission,
			"net_amount":      net,
			"last_error":      nil,
			"captured_at":     now,
			"updated_at":      now,
		}).Error; err != nil {
		return CaptureResult{}, err
	}
	log.WithFields(logrus.Fields{"transaction_id": txID, "commission": commission, "net_amount": net}).Info("payment captured")
	return CaptureResult{Success: true, TransactionID: txID}, nil
}

// ReleaseStaleCaptures returns payments stuck in capturing for longer than
// olderThan to authorized, or to failed once their attempts are used up.
// Captures carry the job id as idempotency key, so a released payment can
// be captured again safely.
func (s *Service) ReleaseStaleCaptures(ctx context.Context, olderThan time.Duration) (int64, error) {
	res := s.DB.WithContext(ctx).Exec(`
update payments
set status = case when capture_attempts >= ? then ? else ? end,
    last_error = 'capture interrupted',
    updated_at = now()
where status = ? and updated_at < ?`,
		s.maxCaptureAttempts(), StatusFailed, StatusAuthorized, StatusCapturing, time.Now().Add(-olderThan))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.logger().WithField("released", res.RowsAffected).Warn("released interrupted payment captures")
	}
	return res.RowsAffected, nil
}

// Status returns the payment of a job.
func (s *Service) Status(ctx context.Context, jobID uuid.UUID) (*Payment, error) {
	var p Payment
	if err := s.DB.WithContext(ctx).Where("maintenance_job_id=?", jobID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "CLP"
	}
	return s.Currency
}

func (s *Service) commissionPercent() float64 {
	if s.CommissionPercent <= 0 {
		return 8
	}
	return s.CommissionPercent
}

func (s *Service) maxCaptureAttempts() int {
	if s.MaxCaptureAttempts <= 0 {
		return 5
	}
	return s.MaxCaptureAttempts
}

func (s *Service) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func authorized(p *Payment) AuthorizeResult {
	return AuthorizeResult{Success: true, PaymentID: p.ID.String(), PayableURL: deref(p.PaymentURL)}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
