package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/cassiomorais/paymentcore/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation = "23505"

	idempotencyKeyConstraint    = "payments_idempotency_key_key"
	externalReferenceConstraint = "payments_external_reference_key"
)

const paymentColumns = `id, order_id, idempotency_key, amount, currency, status,
	external_reference, last_error, version, created_at, updated_at, completed_at`

// DBTX is the common query interface satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PaymentStore implements payment.Store using PostgreSQL. Uniqueness of the
// idempotency key and external reference is enforced by the schema, and
// updates are guarded by the version column.
type PaymentStore struct {
	db DBTX
}

// NewPaymentStore creates a new PaymentStore.
func NewPaymentStore(db DBTX) *PaymentStore {
	return &PaymentStore{db: db}
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *PaymentStore) Save(ctx context.Context, p *payment.Payment) (*payment.Payment, error) {
	if p.ID == uuid.Nil {
		return s.insert(ctx, p, uuid.New())
	}

	// Timestamps come from the database clock; updated_at never moves backwards.
	stored, err := s.scanPayment(s.db.QueryRow(ctx,
		`UPDATE payments SET
		   order_id = $1, idempotency_key = $2, amount = $3, currency = $4, status = $5,
		   external_reference = $6, last_error = $7, completed_at = $8,
		   version = version + 1,
		   updated_at = GREATEST(clock_timestamp(), updated_at + INTERVAL '1 microsecond')
		 WHERE id = $9 AND version = $10
		 RETURNING `+paymentColumns,
		p.OrderID, p.IdempotencyKey, centsToNumeric(p.Amount.ValueCents), p.Amount.Currency, string(p.Status),
		p.ExternalReference, p.LastError, p.CompletedAt,
		p.ID, p.Version,
	))
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, domainErrors.ErrPaymentNotFound) {
		return nil, translateError("update payment", err)
	}

	// Either the version moved on or the caller assigned an ID that was never stored.
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check payment exists: %w", err)
	}
	if exists {
		return nil, domainErrors.ErrOptimisticLockFailed
	}
	return s.insert(ctx, p, p.ID)
}

func (s *PaymentStore) Reserve(ctx context.Context, candidate *payment.Payment) (*payment.Payment, bool, error) {
	id := candidate.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	stored, err := s.scanPayment(s.db.QueryRow(ctx,
		`INSERT INTO payments
		 (id, order_id, idempotency_key, amount, currency, status,
		  external_reference, last_error, version, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, clock_timestamp(), clock_timestamp(), $9)
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING `+paymentColumns,
		id, candidate.OrderID, candidate.IdempotencyKey, centsToNumeric(candidate.Amount.ValueCents),
		candidate.Amount.Currency, string(candidate.Status), candidate.ExternalReference, candidate.LastError,
		candidate.CompletedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, domainErrors.ErrPaymentNotFound) {
		return nil, false, translateError("reserve payment", err)
	}

	// The key is taken. Rows are never deleted, so the holder is visible now.
	existing, err := s.FindByIdempotencyKey(ctx, candidate.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindByID retrieves a payment by its ID.
func (s *PaymentStore) FindByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return s.scanPayment(s.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// FindByIdempotencyKey retrieves a payment by idempotency key.
func (s *PaymentStore) FindByIdempotencyKey(ctx context.Context, key string) (*payment.Payment, error) {
	return s.scanPayment(s.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key))
}

// FindByExternalReference retrieves a payment by the provider's reference.
func (s *PaymentStore) FindByExternalReference(ctx context.Context, ref string) (*payment.Payment, error) {
	return s.scanPayment(s.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_reference = $1`, ref))
}

func (s *PaymentStore) ListStale(ctx context.Context, status payment.PaymentStatus, olderThan time.Time, limit int) ([]*payment.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at ASC
		 LIMIT $3`,
		string(status), olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		p, err := s.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *PaymentStore) insert(ctx context.Context, p *payment.Payment, id uuid.UUID) (*payment.Payment, error) {
	stored, err := s.scanPayment(s.db.QueryRow(ctx,
		`INSERT INTO payments
		 (id, order_id, idempotency_key, amount, currency, status,
		  external_reference, last_error, version, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, clock_timestamp(), clock_timestamp(), $9)
		 RETURNING `+paymentColumns,
		id, p.OrderID, p.IdempotencyKey, centsToNumeric(p.Amount.ValueCents), p.Amount.Currency,
		string(p.Status), p.ExternalReference, p.LastError, p.CompletedAt,
	))
	if err != nil {
		return nil, translateError("insert payment", err)
	}
	return stored, nil
}

// translateError maps unique violations onto the domain's duplicate errors.
func translateError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case idempotencyKeyConstraint:
			return domainErrors.ErrDuplicateIdempotencyKey
		case externalReferenceConstraint:
			return domainErrors.ErrDuplicateExternalReference
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// scanPayment scans a payment from any source implementing the scanner interface.
func (s *PaymentStore) scanPayment(row scanner) (*payment.Payment, error) {
	p := &payment.Payment{}
	var (
		amount string
		status string
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.IdempotencyKey, &amount, &p.Amount.Currency, &status,
		&p.ExternalReference, &p.LastError, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	cents, err := numericToCents(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	p.Amount.ValueCents = cents
	p.Status = payment.PaymentStatus(status)
	return p, nil
}
