package repository

// Schema definitions for Chargeflow database.
// Compatible with both SQLite and PostgreSQL.

// Money columns are TEXT so decimal values round-trip exactly on both drivers.
const schemaRules = `
CREATE TABLE IF NOT EXISTS charge_rules (
    id TEXT PRIMARY KEY,
    rule_code TEXT NOT NULL UNIQUE,
    rule_name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    activity_type TEXT NOT NULL,
    channel TEXT NOT NULL DEFAULT '',
    customer_type TEXT NOT NULL DEFAULT '',
    condition_expr TEXT NOT NULL DEFAULT '',
    fee_type TEXT NOT NULL,
    fee_value TEXT NOT NULL,
    max_fee TEXT,
    status TEXT NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    seq INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_charge_rules_status ON charge_rules(status);
CREATE INDEX IF NOT EXISTS idx_charge_rules_category ON charge_rules(category);
CREATE INDEX IF NOT EXISTS idx_charge_rules_activity ON charge_rules(status, activity_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_charge_rules_seq_unique ON charge_rules(seq);
`

const schemaSettlements = `
CREATE TABLE IF NOT EXISTS settlements (
    id TEXT PRIMARY KEY,
    customer_code TEXT NOT NULL,
    account_number TEXT NOT NULL,
    settlement_type TEXT NOT NULL,
    amount TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    requested_by TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    reviewed_by TEXT NOT NULL DEFAULT '',
    remarks TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_settlements_status ON settlements(status);
CREATE INDEX IF NOT EXISTS idx_settlements_customer ON settlements(customer_code);
CREATE INDEX IF NOT EXISTS idx_settlements_created ON settlements(created_at);
`

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    code TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    customer_type TEXT NOT NULL
);
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRules,
		schemaSettlements,
		schemaCustomers,
		schemaUsers,
	}
}
