package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
)

var pendingPaymentTestColumns = []string{
	"id", "correlation_token", "merchant_request_id", "payer_reference", "user_id",
	"amount", "phone_number", "status", "result_code", "result_desc", "receipt_number", "confirmed_amount",
	"created_at", "finalized_at", "updated_at",
}

func pendingPaymentRow(status string, receipt interface{}) *sqlmock.Rows {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return sqlmock.NewRows(pendingPaymentTestColumns).AddRow(
		int64(9), "ws_CO_1", "mr-1", "42", int64(42),
		"500", "254712345678", status, nil, nil, receipt, nil,
		now, nil, now,
	)
}

func TestPendingPaymentCreateDuplicateToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pending_payments")).
		WillReturnError(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"})

	repo := NewPendingPaymentRepository(db)
	err = repo.Create(context.Background(), &entity.PendingPayment{
		CorrelationToken: "ws_CO_1",
		Amount:           decimal.NewFromInt(500),
		Status:           entity.PaymentStatusPending,
	})
	if !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPendingPaymentFinalizeWinsCompareAndSet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	receipt := "QKJ81XYZ"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pending_payments SET")).
		WithArgs("COMPLETED", sqlmock.AnyArg(), sqlmock.AnyArg(), receipt, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), "ws_CO_1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM pending_payments WHERE correlation_token = ?")).
		WithArgs("ws_CO_1").
		WillReturnRows(pendingPaymentRow("COMPLETED", receipt))

	repo := NewPendingPaymentRepository(db)
	payment, err := repo.Finalize(context.Background(), "ws_CO_1", entity.PaymentOutcome{
		Status:        entity.PaymentStatusCompleted,
		ReceiptNumber: &receipt,
		FinalizedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.Status != entity.PaymentStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", payment.Status)
	}
	if payment.ReceiptNumber == nil || *payment.ReceiptNumber != receipt {
		t.Fatalf("expected receipt %q, got %v", receipt, payment.ReceiptNumber)
	}
	if !payment.Amount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected amount 500, got %s", payment.Amount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPendingPaymentFinalizeTerminalIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE pending_payments SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM pending_payments WHERE correlation_token = ?")).
		WithArgs("ws_CO_1").
		WillReturnRows(pendingPaymentRow("FAILED", nil))

	repo := NewPendingPaymentRepository(db)
	payment, err := repo.Finalize(context.Background(), "ws_CO_1", entity.PaymentOutcome{
		Status:      entity.PaymentStatusCompleted,
		FinalizedAt: time.Now(),
	})
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if payment == nil || payment.Status != entity.PaymentStatusFailed {
		t.Fatalf("expected stored FAILED payment to be returned untouched, got %+v", payment)
	}
}

func TestPendingPaymentFinalizeUnknownToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE pending_payments SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM pending_payments WHERE correlation_token = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(pendingPaymentTestColumns))

	repo := NewPendingPaymentRepository(db)
	_, err = repo.Finalize(context.Background(), "missing", entity.PaymentOutcome{
		Status:      entity.PaymentStatusFailed,
		FinalizedAt: time.Now(),
	})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestPendingPaymentFindByTokenMissingReturnsNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM pending_payments WHERE correlation_token = ?")).
		WillReturnRows(sqlmock.NewRows(pendingPaymentTestColumns))

	payment, err := NewPendingPaymentRepository(db).FindByToken(context.Background(), "nope")
	if err != nil || payment != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", payment, err)
	}
}

func TestPendingPaymentListStalePendingUsesIDCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	before := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY id ASC")).
		WithArgs("PENDING", before, uint64(8), int32(50)).
		WillReturnRows(pendingPaymentRow("PENDING", nil))

	repo := NewPendingPaymentRepository(db)
	items, err := repo.ListStalePending(context.Background(), before, 8, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != 9 {
		t.Fatalf("unexpected page: %+v", items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPendingPaymentListByUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?")).
		WithArgs(int64(42), int32(10), int32(0)).
		WillReturnRows(pendingPaymentRow("COMPLETED", "QKJ81XYZ"))

	repo := NewPendingPaymentRepository(db)
	items, err := repo.ListByUser(context.Background(), 42, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Status != entity.PaymentStatusCompleted {
		t.Fatalf("unexpected payments: %+v", items)
	}
	if items[0].ReceiptNumber == nil || *items[0].ReceiptNumber != "QKJ81XYZ" {
		t.Fatalf("unexpected receipt: %v", items[0].ReceiptNumber)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
