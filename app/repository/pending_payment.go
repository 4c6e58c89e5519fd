package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
)

var (
	ErrPaymentNotFound  = errors.New("pending payment not found")
	ErrDuplicateToken   = errors.New("correlation token already exists")
	ErrAlreadyFinalized = errors.New("payment already finalized")
)

const pendingPaymentColumns = `
	id, correlation_token, merchant_request_id, payer_reference, user_id,
	amount, phone_number, status, result_code, result_desc, receipt_number, confirmed_amount,
	created_at, finalized_at, updated_at
`

type PendingPaymentRepository struct {
	db DBTX
}

func NewPendingPaymentRepository(db DBTX) *PendingPaymentRepository {
	return &PendingPaymentRepository{db: db}
}

func (r *PendingPaymentRepository) Create(ctx context.Context, payment *entity.PendingPayment) error {
	query := `
		INSERT INTO pending_payments (
			correlation_token, merchant_request_id, payer_reference, user_id,
			amount, phone_number, status, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		payment.CorrelationToken,
		payment.MerchantRequestID,
		payment.PayerReference,
		payment.UserID,
		payment.Amount.String(),
		payment.PhoneNumber,
		string(payment.Status),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrDuplicateToken
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = uint64(id)
	return nil
}

func (r *PendingPaymentRepository) FindByToken(ctx context.Context, token string) (*entity.PendingPayment, error) {
	query := `SELECT ` + pendingPaymentColumns + ` FROM pending_payments WHERE correlation_token = ? LIMIT 1`

	payment := &entity.PendingPayment{}
	if err := scanPendingPayment(conn(ctx, r.db).QueryRowContext(ctx, query, token), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

// Finalize moves a PENDING payment to a terminal status. The status check and
// the write are one statement, so of two concurrent callers only one sees a
// changed row; the other gets ErrAlreadyFinalized.
func (r *PendingPaymentRepository) Finalize(ctx context.Context, token string, outcome entity.PaymentOutcome) (*entity.PendingPayment, error) {
	query := `
		UPDATE pending_payments SET
			status = ?,
			result_code = ?,
			result_desc = ?,
			receipt_number = ?,
			confirmed_amount = ?,
			finalized_at = ?,
			updated_at = ?
		WHERE correlation_token = ? AND status = ?
	`

	db := conn(ctx, r.db)
	result, err := db.ExecContext(ctx, query,
		string(outcome.Status),
		nullableInt32Value(outcome.ResultCode),
		nullableStringValue(outcome.ResultDesc),
		nullableStringValue(outcome.ReceiptNumber),
		nullableDecimalValue(outcome.ConfirmedAmount),
		outcome.FinalizedAt,
		outcome.FinalizedAt,
		token,
		string(entity.PaymentStatusPending),
	)
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	payment, err := r.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	if affected == 0 {
		return payment, ErrAlreadyFinalized
	}

	return payment, nil
}

// ListStalePending pages through PENDING payments created at or before
// before, in id order, starting after afterID.
func (r *PendingPaymentRepository) ListStalePending(ctx context.Context, before time.Time, afterID uint64, limit int32) ([]*entity.PendingPayment, error) {
	query := `SELECT ` + pendingPaymentColumns + `
		FROM pending_payments
		WHERE status = ?
		  AND created_at <= ?
		  AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, string(entity.PaymentStatusPending), before, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.PendingPayment, 0)
	for rows.Next() {
		item := &entity.PendingPayment{}
		if err := scanPendingPayment(rows, item); err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

// ListByUser returns the user's payments, newest first.
func (r *PendingPaymentRepository) ListByUser(ctx context.Context, userID uint64, limit, offset int32) ([]*entity.PendingPayment, error) {
	query := `SELECT ` + pendingPaymentColumns + `
		FROM pending_payments
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.PendingPayment, 0)
	for rows.Next() {
		item := &entity.PendingPayment{}
		if err := scanPendingPayment(rows, item); err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

func scanPendingPayment(scan rowScanner, payment *entity.PendingPayment) error {
	var status string
	var resultCode sql.NullInt32
	var resultDesc sql.NullString
	var receipt sql.NullString
	var confirmed decimal.NullDecimal
	var finalizedAt sql.NullTime

	err := scan.Scan(
		&payment.ID,
		&payment.CorrelationToken,
		&payment.MerchantRequestID,
		&payment.PayerReference,
		&payment.UserID,
		&payment.Amount,
		&payment.PhoneNumber,
		&status,
		&resultCode,
		&resultDesc,
		&receipt,
		&confirmed,
		&payment.CreatedAt,
		&finalizedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return err
	}

	payment.Status = entity.PaymentStatus(status)
	payment.ResultCode = int32PtrFromNull(resultCode)
	payment.ResultDesc = stringPtrFromNull(resultDesc)
	payment.ReceiptNumber = stringPtrFromNull(receipt)
	payment.ConfirmedAmount = decimalPtrFromNull(confirmed)
	payment.FinalizedAt = timePtrFromNull(finalizedAt)

	return nil
}
