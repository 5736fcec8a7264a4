package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/chargeflow/internal/domain"
)

const settlementColumns = `
	id, customer_code, account_number, settlement_type, amount, description,
	requested_by, status, reviewed_by, remarks, created_at, updated_at, version
`

func scanSettlement(row rowScanner) (*domain.Settlement, error) {
	var s domain.Settlement
	err := row.Scan(
		&s.ID, &s.CustomerCode, &s.AccountNumber, &s.SettlementType,
		&s.Amount, &s.Description, &s.RequestedBy, &s.Status,
		&s.ReviewedBy, &s.Remarks, &s.CreatedAt, &s.UpdatedAt, &s.Version,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSettlement stores a new settlement request.
func (r *SQLRepository) CreateSettlement(ctx context.Context, s *domain.Settlement) error {
	if s.ID == "" {
		return fmt.Errorf("%w: settlement id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = s.CreatedAt
	if s.Version == 0 {
		s.Version = 1
	}

	query := `
		INSERT INTO settlements (
			id, customer_code, account_number, settlement_type, amount, description,
			requested_by, status, reviewed_by, remarks, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		s.ID, s.CustomerCode, s.AccountNumber, string(s.SettlementType),
		s.Amount, s.Description, s.RequestedBy, string(s.Status),
		s.ReviewedBy, s.Remarks, s.CreatedAt, s.UpdatedAt, s.Version,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: settlement %s", ErrConflict, s.ID)
	}
	return err
}

// GetSettlement retrieves a settlement by ID.
func (r *SQLRepository) GetSettlement(ctx context.Context, id string) (*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE id = ?`

	s, err := scanSettlement(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListSettlements returns settlements matching the filter, newest first.
// From is inclusive and To is exclusive.
func (r *SQLRepository) ListSettlements(ctx context.Context, filter domain.SettlementFilter) ([]*domain.Settlement, error) {
	var where []string
	var args []any

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.CustomerCode != "" {
		where = append(where, "customer_code = ?")
		args = append(args, filter.CustomerCode)
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, filter.To.UTC())
	}

	query := `SELECT ` + settlementColumns + ` FROM settlements`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settlements := make([]*domain.Settlement, 0)
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, s)
	}

	return settlements, rows.Err()
}

// UpdateSettlementStatus moves a settlement between statuses in a single
// conditional write. reviewedBy and remarks replace the stored values.
// A mismatch returns the current row and ErrStaleStatus.
func (r *SQLRepository) UpdateSettlementStatus(ctx context.Context, id string, from, to domain.SettlementStatus, reviewedBy, remarks string) (*domain.Settlement, error) {
	query := `
		UPDATE settlements SET
			status = ?, reviewed_by = ?, remarks = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND status = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		string(to), reviewedBy, remarks,
		time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return nil, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	s, err := r.GetSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return s, ErrStaleStatus
	}
	return s, nil
}
