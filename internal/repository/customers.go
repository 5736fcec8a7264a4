package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/opensource-finance/chargeflow/internal/domain"
)

// SeedCustomers is the reference customer set installed on first start.
var SeedCustomers = []domain.Customer{
	{Code: "CUST001", Name: "John Doe", Type: domain.CustomerRetail},
	{Code: "CUST002", Name: "Jane Smith", Type: domain.CustomerCorporate},
	{Code: "CUST003", Name: "Bob Wilson", Type: domain.CustomerPremium},
}

func (r *SQLRepository) seedCustomers(ctx context.Context) error {
	query := `
		INSERT INTO customers (code, name, customer_type) VALUES (?, ?, ?)
		ON CONFLICT (code) DO NOTHING
	`
	for _, c := range SeedCustomers {
		if _, err := r.db.ExecContext(ctx, r.rebind(query), c.Code, c.Name, string(c.Type)); err != nil {
			return err
		}
	}
	return nil
}

// GetCustomer retrieves customer reference data by code.
func (r *SQLRepository) GetCustomer(ctx context.Context, code string) (*domain.Customer, error) {
	var c domain.Customer
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT code, name, customer_type FROM customers WHERE code = ?`), code,
	).Scan(&c.Code, &c.Name, &c.Type)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCustomers returns every customer ordered by code.
func (r *SQLRepository) ListCustomers(ctx context.Context) ([]*domain.Customer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, name, customer_type FROM customers ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]*domain.Customer, 0)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.Code, &c.Name, &c.Type); err != nil {
			return nil, err
		}
		customers = append(customers, &c)
	}
	return customers, rows.Err()
}
