package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/bnema/gateway-pool/internal/ports"
	_ "github.com/mattn/go-sqlite3"
)

// Repository stores accounts in a SQLite database.
type Repository struct {
	db *sql.DB
}

var _ ports.AccountRepository = (*Repository)(nil)

func NewRepository(dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every connection to an in-memory database is a separate database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			token TEXT NOT NULL DEFAULT '',
			server_id TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT '',
			last_used_at INTEGER NOT NULL DEFAULT 0,
			use_count INTEGER NOT NULL DEFAULT 0,
			profile TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_position ON accounts(position)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}

const selectColumns = `id, name, token, server_id, channel_id, mode, last_used_at, use_count, profile`

func (r *Repository) GetByID(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM accounts WHERE id = ?`, string(id))
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return account, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM accounts ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func (r *Repository) Save(ctx context.Context, account domain.Account) error {
	profile, err := encodeProfile(account.Profile)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, position, name, token, server_id, channel_id, mode, last_used_at, use_count, profile)
		VALUES (?, (SELECT COALESCE(MAX(position), -1) + 1 FROM accounts), ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			token = excluded.token,
			server_id = excluded.server_id,
			channel_id = excluded.channel_id,
			mode = excluded.mode,
			last_used_at = excluded.last_used_at,
			use_count = excluded.use_count,
			profile = excluded.profile`,
		string(account.ID), account.Name, account.Token, account.ServerID, account.ChannelID,
		string(account.Mode), unixNano(account.Usage.LastUsedAt), account.Usage.UseCount, profile,
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", account.ID, err)
	}
	return nil
}

func (r *Repository) PutAll(ctx context.Context, accounts []domain.Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO accounts (id, position, name, token, server_id, channel_id, mode, last_used_at, use_count, profile)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, account := range accounts {
		profile, err := encodeProfile(account.Profile)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			string(account.ID), i, account.Name, account.Token, account.ServerID, account.ChannelID,
			string(account.Mode), unixNano(account.Usage.LastUsedAt), account.Usage.UseCount, profile,
		); err != nil {
			return fmt.Errorf("insert account %s: %w", account.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (domain.Account, error) {
	var (
		account    domain.Account
		id, mode   string
		lastUsedAt int64
		profile    sql.NullString
	)
	if err := row.Scan(&id, &account.Name, &account.Token, &account.ServerID, &account.ChannelID,
		&mode, &lastUsedAt, &account.Usage.UseCount, &profile); err != nil {
		return domain.Account{}, err
	}

	account.ID = domain.AccountID(id)
	account.Mode = domain.Mode(mode)
	if lastUsedAt != 0 {
		account.Usage.LastUsedAt = time.Unix(0, lastUsedAt).UTC()
	}
	if profile.Valid && profile.String != "" {
		if err := json.Unmarshal([]byte(profile.String), &account.Profile); err != nil {
			return domain.Account{}, fmt.Errorf("decode profile: %w", err)
		}
	}
	return account, nil
}

func encodeProfile(profile domain.Profile) (sql.NullString, error) {
	if len(profile) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode profile: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
