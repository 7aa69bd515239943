package database

import (
	"database/sql"
	"fmt"
)

// Ordered DDL, applied once each and recorded in schema_migrations.
var migrations = []struct {
	version string
	ddl     string
}{
	{
		version: "001_wallet_accounts",
		ddl: `
CREATE TABLE IF NOT EXISTS wallet_accounts (
	id UUID PRIMARY KEY,
	owner_type TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	purpose TEXT NOT NULL,
	type TEXT NOT NULL,
	currency CHAR(3) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT wallet_accounts_selector UNIQUE (owner_type, owner_id, purpose, currency)
)`,
	},
	{
		version: "002_journal_entries",
		ddl: `
CREATE TABLE IF NOT EXISTS journal_entries (
	id BIGSERIAL PRIMARY KEY,
	txn_id TEXT NOT NULL,
	line_no INT NOT NULL,
	account_id UUID NOT NULL REFERENCES wallet_accounts(id),
	side TEXT NOT NULL CHECK (side IN ('DEBIT', 'CREDIT')),
	amount BIGINT NOT NULL CHECK (amount > 0),
	currency CHAR(3) NOT NULL,
	meta JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT journal_entries_txn_line UNIQUE (txn_id, line_no)
);
CREATE INDEX IF NOT EXISTS journal_entries_account_idx ON journal_entries (account_id, created_at);
CREATE INDEX IF NOT EXISTS journal_entries_txn_idx ON journal_entries (txn_id)`,
	},
	{
		version: "003_orders",
		ddl: `
CREATE TABLE IF NOT EXISTS orders (
	id UUID PRIMARY KEY,
	public_ref TEXT NOT NULL UNIQUE,
	merchant_profile_id TEXT NOT NULL,
	customer_email TEXT NOT NULL DEFAULT '',
	amount BIGINT NOT NULL CHECK (amount > 0),
	currency CHAR(3) NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING_PAYMENT',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	},
	{
		version: "004_payment_intents",
		ddl: `
CREATE TABLE IF NOT EXISTS payment_intents (
	id UUID PRIMARY KEY,
	order_id UUID NOT NULL REFERENCES orders(id),
	provider TEXT NOT NULL,
	provider_ref TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	amount BIGINT NOT NULL,
	currency CHAR(3) NOT NULL,
	auth_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT payment_intents_provider_ref UNIQUE (provider, provider_ref)
)`,
	},
	{
		version: "005_payouts",
		ddl: `
CREATE TABLE IF NOT EXISTS bank_accounts (
	id UUID PRIMARY KEY,
	owner_type TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	bank_code TEXT NOT NULL,
	account_no TEXT NOT NULL,
	account_name TEXT NOT NULL DEFAULT '',
	recipient_code TEXT NOT NULL DEFAULT '',
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT bank_accounts_owner_acct UNIQUE (owner_type, owner_id, bank_code, account_no)
);
CREATE TABLE IF NOT EXISTS payout_requests (
	id UUID PRIMARY KEY,
	owner_type TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	bank_account_id UUID NOT NULL REFERENCES bank_accounts(id),
	amount BIGINT NOT NULL CHECK (amount > 0),
	currency CHAR(3) NOT NULL,
	provider TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS transfers (
	id UUID PRIMARY KEY,
	payout_request_id UUID NOT NULL REFERENCES payout_requests(id),
	provider TEXT NOT NULL,
	provider_ref TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'SENT',
	amount BIGINT NOT NULL,
	currency CHAR(3) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT transfers_provider_ref UNIQUE (provider, provider_ref)
)`,
	},
}

// Migrate applies pending migrations in order, each in its own transaction.
func Migrate(db *sql.DB) error {
	const table = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.Exec(table); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %q: %w", m.version, err)
		}
		if applied {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %q: %w", m.version, err)
		}
		if _, err := tx.Exec(m.ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %q: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES ($1)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %q: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %q: %w", m.version, err)
		}
	}
	return nil
}
