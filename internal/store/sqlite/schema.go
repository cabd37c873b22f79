package sqlite

import (
	"database/sql"
)

// EnsureSchema creates core tables if they do not exist.
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
            thread_id TEXT PRIMARY KEY,
            state TEXT NOT NULL,
            version INTEGER NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS ttl (
            thread_id TEXT PRIMARY KEY,
            last_message_time TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS phone_verifications (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            phone_number TEXT NOT NULL,
            account_id TEXT NOT NULL,
            session_id TEXT,
            verified_at TIMESTAMP NOT NULL,
            verification_method TEXT NOT NULL,
            is_active INTEGER NOT NULL DEFAULT 1
        );`,
		`CREATE TABLE IF NOT EXISTS accounts (
            account_id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            address TEXT,
            zip_code TEXT,
            phone TEXT,
            account_type TEXT,
            language TEXT,
            status TEXT,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_phone ON accounts(phone);`,
		`CREATE TABLE IF NOT EXISTS billing_info (
            account_id TEXT PRIMARY KEY REFERENCES accounts(account_id),
            current_balance REAL NOT NULL,
            raw_balance REAL NOT NULL,
            unpaid_debt_recovery REAL NOT NULL DEFAULT 0,
            days_left INTEGER NOT NULL DEFAULT 0,
            last_payment_date TIMESTAMP,
            last_payment_amount REAL
        );`,
		`CREATE TABLE IF NOT EXISTS readings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            account_id TEXT NOT NULL REFERENCES accounts(account_id),
            meter_number TEXT,
            reading_value REAL NOT NULL,
            read_date TIMESTAMP NOT NULL,
            usage REAL NOT NULL,
            charge_amount REAL NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS outages (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            reference_number TEXT NOT NULL UNIQUE,
            account_id TEXT,
            name TEXT,
            address TEXT NOT NULL,
            nature TEXT NOT NULL,
            scale TEXT,
            status TEXT NOT NULL DEFAULT 'Reported',
            start_time TIMESTAMP NOT NULL,
            latitude REAL,
            longitude REAL,
            created_at TIMESTAMP NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
