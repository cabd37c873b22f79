package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/moative/billie/internal/model"
	"github.com/moative/billie/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies
// connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a native Postgres store backed directly by database/sql.
// Schema setup is handled by migrations, not by this package.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Checkpoints() store.Checkpoints     { return &checkpoints{db: s.db} }
func (s *pgStore) Sessions() store.Sessions           { return &sessions{db: s.db} }
func (s *pgStore) Verifications() store.Verifications { return &verifications{db: s.db} }
func (s *pgStore) Customers() store.Customers         { return &customers{db: s.db} }
func (s *pgStore) Outages() store.Outages             { return &outages{db: s.db} }

func (s *pgStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", model.ErrStorage, err)
}

// --- Checkpoints ---

type checkpoints struct{ db *sql.DB }

func (c *checkpoints) Load(ctx context.Context, threadID string) (*model.Checkpoint, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT state, version, updated_at FROM checkpoints WHERE thread_id = $1`, threadID)
	var raw []byte
	cp := model.Checkpoint{ThreadID: threadID}
	if err := row.Scan(&raw, &cp.Version, &cp.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, storageErr(err)
	}
	st := model.NewDialogueState()
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, storageErr(err)
	}
	cp.State = st
	return &cp, nil
}

func (c *checkpoints) Save(ctx context.Context, cp *model.Checkpoint, lastMessageTime time.Time) error {
	raw, err := json.Marshal(cp.State)
	if err != nil {
		return storageErr(err)
	}
	now := time.Now().UTC()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if cp.Version == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO checkpoints (thread_id, state, version, updated_at) VALUES ($1,$2,1,$3)`,
			cp.ThreadID, raw, now)
		if err != nil {
			return fmt.Errorf("%w: checkpoint for thread %s already exists", model.ErrConflict, cp.ThreadID)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE checkpoints SET state = $1, version = version + 1, updated_at = $2 WHERE thread_id = $3 AND version = $4`,
			raw, now, cp.ThreadID, cp.Version)
		if err != nil {
			return storageErr(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: stale checkpoint version %d for thread %s", model.ErrConflict, cp.Version, cp.ThreadID)
		}
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO ttl (thread_id, last_message_time) VALUES ($1, $2)
        ON CONFLICT (thread_id) DO UPDATE SET last_message_time = EXCLUDED.last_message_time`,
		cp.ThreadID, lastMessageTime.UTC())
	if err != nil {
		return storageErr(err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	cp.Version++
	cp.UpdatedAt = now
	return nil
}

func (c *checkpoints) Delete(ctx context.Context, threadID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return storageErr(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ttl WHERE thread_id = $1`, threadID); err != nil {
		return storageErr(err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

// --- Sessions ---

type sessions struct{ db *sql.DB }

func (s *sessions) List(ctx context.Context) ([]model.TTLRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT thread_id, last_message_time FROM ttl`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()
	var out []model.TTLRecord
	for rows.Next() {
		var r model.TTLRecord
		if err := rows.Scan(&r.ThreadID, &r.LastMessageTime); err != nil {
			return nil, storageErr(err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sessions) Touch(ctx context.Context, threadID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO ttl (thread_id, last_message_time) VALUES ($1, $2)
        ON CONFLICT (thread_id) DO UPDATE SET last_message_time = EXCLUDED.last_message_time`,
		threadID, t.UTC())
	if err != nil {
		return storageErr(err)
	}
	return nil
}

// --- Verifications ---

type verifications struct{ db *sql.DB }

func (v *verifications) Replace(ctx context.Context, rec *model.VerificationRecord) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM phone_verifications`); err != nil {
		return storageErr(err)
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO phone_verifications (phone_number, account_id, session_id, verified_at, verification_method, is_active)
        VALUES ($1,$2,$3,$4,$5,TRUE)`,
		rec.PhoneNumber, rec.AccountID, nullStr(rec.SessionID), rec.VerifiedAt.UTC(), rec.VerificationMethod)
	if err != nil {
		return storageErr(err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (v *verifications) Active(ctx context.Context) (*model.VerificationRecord, error) {
	row := v.db.QueryRowContext(ctx, `
        SELECT phone_number, account_id, session_id, verified_at, verification_method
        FROM phone_verifications WHERE is_active
        ORDER BY verified_at DESC LIMIT 1`)
	return scanVerification(row)
}

func (v *verifications) ActiveByPhone(ctx context.Context, phoneNumber string) (*model.VerificationRecord, error) {
	row := v.db.QueryRowContext(ctx, `
        SELECT phone_number, account_id, session_id, verified_at, verification_method
        FROM phone_verifications WHERE phone_number = $1 AND is_active
        ORDER BY verified_at DESC LIMIT 1`, phoneNumber)
	return scanVerification(row)
}

func (v *verifications) Deactivate(ctx context.Context, phoneNumber string) error {
	res, err := v.db.ExecContext(ctx,
		`UPDATE phone_verifications SET is_active = FALSE WHERE phone_number = $1`, phoneNumber)
	if err != nil {
		return storageErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (v *verifications) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := v.db.ExecContext(ctx,
		`DELETE FROM phone_verifications WHERE session_id = $1`, sessionID)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

func (v *verifications) DeleteAll(ctx context.Context) error {
	if _, err := v.db.ExecContext(ctx, `DELETE FROM phone_verifications`); err != nil {
		return storageErr(err)
	}
	return nil
}

func scanVerification(row *sql.Row) (*model.VerificationRecord, error) {
	var rec model.VerificationRecord
	var session sql.NullString
	err := row.Scan(&rec.PhoneNumber, &rec.AccountID, &session, &rec.VerifiedAt, &rec.VerificationMethod)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, storageErr(err)
	}
	rec.SessionID = session.String
	rec.IsActive = true
	return &rec, nil
}

// --- Customers ---

type customers struct{ db *sql.DB }

const customerCols = `account_id, name, address, zip_code, phone, account_type, language, status, created_at`

func (c *customers) GetByPhone(ctx context.Context, phoneNumber string) (*model.Customer, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+customerCols+` FROM accounts WHERE phone = $1`, phoneNumber)
	return scanCustomer(row)
}

func (c *customers) GetByAccountID(ctx context.Context, accountID string) (*model.Customer, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+customerCols+` FROM accounts WHERE account_id = $1`, accountID)
	return scanCustomer(row)
}

func (c *customers) Create(ctx context.Context, m *model.Customer) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
        INSERT INTO accounts (account_id, name, address, zip_code, phone, account_type, language, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.AccountID, m.Name, m.Address, m.ZipCode, m.Phone, m.AccountType, m.Language, m.Status, m.CreatedAt)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

func (c *customers) BillingByAccount(ctx context.Context, accountID string) (*model.BillingInfo, error) {
	row := c.db.QueryRowContext(ctx, `
        SELECT account_id, current_balance, raw_balance, unpaid_debt_recovery, days_left, last_payment_date, last_payment_amount
        FROM billing_info WHERE account_id = $1`, accountID)
	var b model.BillingInfo
	var payDate sql.NullTime
	var payAmt sql.NullFloat64
	err := row.Scan(&b.AccountID, &b.CurrentBalance, &b.RawBalance, &b.UnpaidDebtRecovery, &b.DaysLeft, &payDate, &payAmt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, storageErr(err)
	}
	if payDate.Valid {
		t := payDate.Time
		b.LastPaymentDate = &t
	}
	if payAmt.Valid {
		a := payAmt.Float64
		b.LastPaymentAmount = &a
	}
	return &b, nil
}

func (c *customers) PutBilling(ctx context.Context, b *model.BillingInfo) error {
	_, err := c.db.ExecContext(ctx, `
        INSERT INTO billing_info (account_id, current_balance, raw_balance, unpaid_debt_recovery, days_left, last_payment_date, last_payment_amount)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (account_id) DO UPDATE SET
            current_balance = EXCLUDED.current_balance,
            raw_balance = EXCLUDED.raw_balance,
            unpaid_debt_recovery = EXCLUDED.unpaid_debt_recovery,
            days_left = EXCLUDED.days_left,
            last_payment_date = EXCLUDED.last_payment_date,
            last_payment_amount = EXCLUDED.last_payment_amount`,
		b.AccountID, b.CurrentBalance, b.RawBalance, b.UnpaidDebtRecovery, b.DaysLeft, b.LastPaymentDate, b.LastPaymentAmount)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

func (c *customers) LatestReading(ctx context.Context, accountID string) (*model.MeterReading, error) {
	row := c.db.QueryRowContext(ctx, `
        SELECT account_id, meter_number, reading_value, read_date, usage, charge_amount
        FROM readings WHERE account_id = $1 ORDER BY read_date DESC LIMIT 1`, accountID)
	var r model.MeterReading
	var meter sql.NullString
	err := row.Scan(&r.AccountID, &meter, &r.ReadingValue, &r.ReadDate, &r.Usage, &r.ChargeAmount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, storageErr(err)
	}
	r.MeterNumber = meter.String
	return &r, nil
}

func (c *customers) PutReading(ctx context.Context, r *model.MeterReading) error {
	_, err := c.db.ExecContext(ctx, `
        INSERT INTO readings (account_id, meter_number, reading_value, read_date, usage, charge_amount)
        VALUES ($1,$2,$3,$4,$5,$6)`,
		r.AccountID, r.MeterNumber, r.ReadingValue, r.ReadDate.UTC(), r.Usage, r.ChargeAmount)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

func scanCustomer(row *sql.Row) (*model.Customer, error) {
	var m model.Customer
	var addr, zip, phone, acctType, lang, status sql.NullString
	err := row.Scan(&m.AccountID, &m.Name, &addr, &zip, &phone, &acctType, &lang, &status, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, storageErr(err)
	}
	m.Address = addr.String
	m.ZipCode = zip.String
	m.Phone = phone.String
	m.AccountType = acctType.String
	m.Language = lang.String
	m.Status = status.String
	return &m, nil
}

// --- Outages ---

type outages struct{ db *sql.DB }

func (o *outages) Create(ctx context.Context, m *model.Outage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = "Reported"
	}
	_, err := o.db.ExecContext(ctx, `
        INSERT INTO outages (reference_number, account_id, name, address, nature, scale, status, start_time, latitude, longitude, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ReferenceNumber, nullStr(m.AccountID), nullStr(m.Name), m.Address, m.Nature, m.Scale, m.Status,
		m.StartTime.UTC(), m.Latitude, m.Longitude, m.CreatedAt)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

func (o *outages) GetByReference(ctx context.Context, referenceNumber string) (*model.Outage, error) {
	row := o.db.QueryRowContext(ctx, `
        SELECT reference_number, account_id, name, address, nature, scale, status, start_time, latitude, longitude, created_at
        FROM outages WHERE reference_number = $1`, referenceNumber)
	var m model.Outage
	var acct, name sql.NullString
	err := row.Scan(&m.ReferenceNumber, &acct, &name, &m.Address, &m.Nature, &m.Scale, &m.Status,
		&m.StartTime, &m.Latitude, &m.Longitude, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, storageErr(err)
	}
	m.AccountID = acct.String
	m.Name = name.String
	return &m, nil
}

func (o *outages) ActiveByZip(ctx context.Context, zipCode string) ([]*model.Outage, error) {
	rows, err := o.db.QueryContext(ctx, `
        SELECT reference_number, account_id, name, address, nature, scale, status, start_time, latitude, longitude, created_at
        FROM outages
        WHERE status IN ('Reported','Accepted','In Progress') AND address LIKE $1`,
		"%"+zipCode+"%")
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(zipCode) + `\b`)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid zip code %q", model.ErrValidation, zipCode)
	}

	var out []*model.Outage
	for rows.Next() {
		var m model.Outage
		var acct, name sql.NullString
		if err := rows.Scan(&m.ReferenceNumber, &acct, &name, &m.Address, &m.Nature, &m.Scale, &m.Status,
			&m.StartTime, &m.Latitude, &m.Longitude, &m.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		m.AccountID = acct.String
		m.Name = name.String
		if re.MatchString(m.Address) {
			out = append(out, &m)
		}
	}
	return out, rows.Err()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
