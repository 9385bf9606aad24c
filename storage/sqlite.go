package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/guardiavault/vault-recovery-backend/interfaces"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vaults (
	id                     TEXT PRIMARY KEY,
	owner_id               TEXT NOT NULL,
	name                   TEXT NOT NULL,
	threshold              INTEGER NOT NULL,
	total_shares           INTEGER NOT NULL,
	status                 TEXT NOT NULL,
	check_in_interval_days INTEGER NOT NULL,
	grace_period_days      INTEGER NOT NULL,
	voting_window_days     INTEGER NOT NULL,
	time_lock_days         INTEGER NOT NULL,
	last_check_in          TIMESTAMP NOT NULL,
	epoch                  INTEGER NOT NULL,
	mac_key                BLOB NOT NULL,
	passphrases_revealed   INTEGER NOT NULL DEFAULT 0,
	release_at             TIMESTAMP,
	created_at             TIMESTAMP NOT NULL,
	updated_at             TIMESTAMP NOT NULL,
	version                INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vaults_status ON vaults(status);

CREATE TABLE IF NOT EXISTS guardians (
	id                TEXT PRIMARY KEY,
	vault_id          TEXT NOT NULL REFERENCES vaults(id),
	role              TEXT NOT NULL,
	name              TEXT NOT NULL,
	email             TEXT NOT NULL,
	status            TEXT NOT NULL,
	fragment_index    INTEGER NOT NULL DEFAULT 0,
	invite_token      TEXT,
	invite_expires_at TIMESTAMP,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL,
	version           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_guardians_vault ON guardians(vault_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_guardians_token ON guardians(invite_token) WHERE invite_token IS NOT NULL AND invite_token != '';

CREATE TABLE IF NOT EXISTS fragments (
	vault_id     TEXT NOT NULL REFERENCES vaults(id),
	epoch        INTEGER NOT NULL,
	frag_index   INTEGER NOT NULL,
	guardian_id  TEXT NOT NULL,
	ciphertext   BLOB NOT NULL,
	status       TEXT NOT NULL,
	archive_refs TEXT,
	created_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (vault_id, epoch, frag_index)
);

CREATE TABLE IF NOT EXISTS claims (
	id              TEXT PRIMARY KEY,
	vault_id        TEXT NOT NULL REFERENCES vaults(id),
	claimant        TEXT NOT NULL,
	reason          TEXT NOT NULL,
	status          TEXT NOT NULL,
	voting_deadline TIMESTAMP NOT NULL,
	approval_votes  INTEGER NOT NULL DEFAULT 0,
	rejection_votes INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL,
	resolved_at     TIMESTAMP,
	version         INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_one_open_per_vault ON claims(vault_id) WHERE status = 'open';

CREATE TABLE IF NOT EXISTS votes (
	claim_id    TEXT NOT NULL REFERENCES claims(id),
	guardian_id TEXT NOT NULL REFERENCES guardians(id),
	decision    TEXT NOT NULL,
	cast_at     TIMESTAMP NOT NULL,
	PRIMARY KEY (claim_id, guardian_id)
);
`

// SQLiteStore persists all recovery state in a single SQLite database. The
// single-open-claim invariant is enforced by a partial unique index, and
// optimistic concurrency by conditional UPDATEs on the version column.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite handles one writer at a time; serializing in the pool avoids
	// SQLITE_BUSY churn under concurrent sweeps.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func scanTime(nt sql.NullTime) time.Time {
	if nt.Valid {
		return nt.Time
	}
	return time.Time{}
}

func (s *SQLiteStore) CreateVault(ctx context.Context, v *interfaces.Vault) error {
	v.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vaults (id, owner_id, name, threshold, total_shares, status,
			check_in_interval_days, grace_period_days, voting_window_days, time_lock_days,
			last_check_in, epoch, mac_key, passphrases_revealed, release_at,
			created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.OwnerID, v.Name, v.Scheme.Threshold, v.Scheme.Total, v.Status,
		v.CheckInIntervalDays, v.GracePeriodDays, v.VotingWindowDays, v.TimeLockDays,
		v.LastCheckIn, v.Epoch, v.MACKey, v.PassphrasesRevealed, nullableTime(v.ReleaseAt),
		v.CreatedAt, v.UpdatedAt, v.Version)
	return err
}

const vaultColumns = `id, owner_id, name, threshold, total_shares, status,
	check_in_interval_days, grace_period_days, voting_window_days, time_lock_days,
	last_check_in, epoch, mac_key, passphrases_revealed, release_at,
	created_at, updated_at, version`

func scanVault(row interface{ Scan(...any) error }) (*interfaces.Vault, error) {
	v := &interfaces.Vault{}
	var releaseAt sql.NullTime
	err := row.Scan(&v.ID, &v.OwnerID, &v.Name, &v.Scheme.Threshold, &v.Scheme.Total, &v.Status,
		&v.CheckInIntervalDays, &v.GracePeriodDays, &v.VotingWindowDays, &v.TimeLockDays,
		&v.LastCheckIn, &v.Epoch, &v.MACKey, &v.PassphrasesRevealed, &releaseAt,
		&v.CreatedAt, &v.UpdatedAt, &v.Version)
	if err != nil {
		return nil, err
	}
	v.ReleaseAt = scanTime(releaseAt)
	return v, nil
}

func (s *SQLiteStore) GetVault(ctx context.Context, id interfaces.VaultID) (*interfaces.Vault, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+vaultColumns+` FROM vaults WHERE id = ?`, id)
	v, err := scanVault(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return v, err
}

func (s *SQLiteStore) UpdateVault(ctx context.Context, v *interfaces.Vault) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vaults SET owner_id = ?, name = ?, threshold = ?, total_shares = ?, status = ?,
			check_in_interval_days = ?, grace_period_days = ?, voting_window_days = ?, time_lock_days = ?,
			last_check_in = ?, epoch = ?, mac_key = ?, passphrases_revealed = ?, release_at = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		v.OwnerID, v.Name, v.Scheme.Threshold, v.Scheme.Total, v.Status,
		v.CheckInIntervalDays, v.GracePeriodDays, v.VotingWindowDays, v.TimeLockDays,
		v.LastCheckIn, v.Epoch, v.MACKey, v.PassphrasesRevealed, nullableTime(v.ReleaseAt),
		v.UpdatedAt, v.ID, v.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetVault(ctx, v.ID); errors.Is(getErr, interfaces.ErrNotFound) {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("%w: vault %s", interfaces.ErrVersionConflict, v.ID)
	}
	v.Version++
	return nil
}

func (s *SQLiteStore) ListVaultsByStatus(ctx context.Context, statuses ...interfaces.VaultStatus) ([]*interfaces.Vault, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vaultColumns+` FROM vaults WHERE status IN (`+placeholders+`) ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*interfaces.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateGuardian(ctx context.Context, g *interfaces.Guardian) error {
	g.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardians (id, vault_id, role, name, email, status, fragment_index,
			invite_token, invite_expires_at, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.VaultID, g.Role, g.Name, g.Email, g.Status, g.FragmentIndex,
		g.InviteToken, nullableTime(g.InviteExpiresAt), g.CreatedAt, g.UpdatedAt, g.Version)
	return err
}

const guardianColumns = `id, vault_id, role, name, email, status, fragment_index,
	invite_token, invite_expires_at, created_at, updated_at, version`

func scanGuardian(row interface{ Scan(...any) error }) (*interfaces.Guardian, error) {
	g := &interfaces.Guardian{}
	var token sql.NullString
	var expires sql.NullTime
	err := row.Scan(&g.ID, &g.VaultID, &g.Role, &g.Name, &g.Email, &g.Status, &g.FragmentIndex,
		&token, &expires, &g.CreatedAt, &g.UpdatedAt, &g.Version)
	if err != nil {
		return nil, err
	}
	g.InviteToken = token.String
	g.InviteExpiresAt = scanTime(expires)
	return g, nil
}

func (s *SQLiteStore) GetGuardian(ctx context.Context, id interfaces.GuardianID) (*interfaces.Guardian, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+guardianColumns+` FROM guardians WHERE id = ?`, id)
	g, err := scanGuardian(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return g, err
}

func (s *SQLiteStore) GetGuardianByToken(ctx context.Context, token string) (*interfaces.Guardian, error) {
	if token == "" {
		return nil, interfaces.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+guardianColumns+` FROM guardians WHERE invite_token = ?`, token)
	g, err := scanGuardian(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return g, err
}

func (s *SQLiteStore) ListGuardians(ctx context.Context, vaultID interfaces.VaultID) ([]*interfaces.Guardian, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+guardianColumns+` FROM guardians WHERE vault_id = ? ORDER BY created_at`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*interfaces.Guardian
	for rows.Next() {
		g, err := scanGuardian(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateGuardian(ctx context.Context, g *interfaces.Guardian) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE guardians SET role = ?, name = ?, email = ?, status = ?, fragment_index = ?,
			invite_token = ?, invite_expires_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		g.Role, g.Name, g.Email, g.Status, g.FragmentIndex,
		g.InviteToken, nullableTime(g.InviteExpiresAt), g.UpdatedAt, g.ID, g.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetGuardian(ctx, g.ID); errors.Is(getErr, interfaces.ErrNotFound) {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("%w: guardian %s", interfaces.ErrVersionConflict, g.ID)
	}
	g.Version++
	return nil
}

func (s *SQLiteStore) ReplaceFragments(ctx context.Context, vaultID interfaces.VaultID, epoch int, fragments []*interfaces.FragmentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fragments WHERE vault_id = ?`, vaultID); err != nil {
		return err
	}
	for _, f := range fragments {
		if f.VaultID != vaultID || f.Epoch != epoch {
			return fmt.Errorf("%w: fragment %d does not belong to vault %s epoch %d",
				interfaces.ErrInvalidParameters, f.Index, vaultID, epoch)
		}
		refs, err := json.Marshal(f.ArchiveRefs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fragments (vault_id, epoch, frag_index, guardian_id, ciphertext, status, archive_refs, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.VaultID, f.Epoch, f.Index, f.GuardianID, f.Ciphertext, f.Status, string(refs), f.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListFragments(ctx context.Context, vaultID interfaces.VaultID) ([]*interfaces.FragmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vault_id, epoch, frag_index, guardian_id, ciphertext, status, archive_refs, created_at
		FROM fragments WHERE vault_id = ? ORDER BY frag_index`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*interfaces.FragmentRecord
	for rows.Next() {
		f := &interfaces.FragmentRecord{}
		var refs sql.NullString
		if err := rows.Scan(&f.VaultID, &f.Epoch, &f.Index, &f.GuardianID, &f.Ciphertext, &f.Status, &refs, &f.CreatedAt); err != nil {
			return nil, err
		}
		if refs.Valid && refs.String != "" && refs.String != "null" {
			if err := json.Unmarshal([]byte(refs.String), &f.ArchiveRefs); err != nil {
				return nil, err
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetFragmentStatus(ctx context.Context, vaultID interfaces.VaultID, guardianID interfaces.GuardianID, status interfaces.FragmentStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fragments SET status = ?
		WHERE vault_id = ? AND guardian_id = ? AND status != ?`,
		status, vaultID, guardianID, interfaces.FragmentRevoked)
	return err
}

func (s *SQLiteStore) CreateClaim(ctx context.Context, c *interfaces.Claim) error {
	c.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (id, vault_id, claimant, reason, status, voting_deadline,
			approval_votes, rejection_votes, created_at, resolved_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.VaultID, c.Claimant, c.Reason, c.Status, c.VotingDeadline,
		c.ApprovalVotes, c.RejectionVotes, c.CreatedAt, nullableTime(c.ResolvedAt), c.Version)
	if err != nil && strings.Contains(err.Error(), "idx_claims_one_open_per_vault") {
		return fmt.Errorf("%w: vault %s already has an open claim", interfaces.ErrClaimExists, c.VaultID)
	}
	return err
}

const claimColumns = `id, vault_id, claimant, reason, status, voting_deadline,
	approval_votes, rejection_votes, created_at, resolved_at, version`

func scanClaim(row interface{ Scan(...any) error }) (*interfaces.Claim, error) {
	c := &interfaces.Claim{}
	var resolvedAt sql.NullTime
	err := row.Scan(&c.ID, &c.VaultID, &c.Claimant, &c.Reason, &c.Status, &c.VotingDeadline,
		&c.ApprovalVotes, &c.RejectionVotes, &c.CreatedAt, &resolvedAt, &c.Version)
	if err != nil {
		return nil, err
	}
	c.ResolvedAt = scanTime(resolvedAt)
	return c, nil
}

func (s *SQLiteStore) GetClaim(ctx context.Context, id interfaces.ClaimID) (*interfaces.Claim, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = ?`, id)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return c, err
}

func (s *SQLiteStore) GetOpenClaim(ctx context.Context, vaultID interfaces.VaultID) (*interfaces.Claim, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE vault_id = ? AND status = 'open'`, vaultID)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return c, err
}

func (s *SQLiteStore) ListOpenClaims(ctx context.Context) ([]*interfaces.Claim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE status = 'open' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectClaims(rows)
}

func (s *SQLiteStore) ListClaimsByVault(ctx context.Context, vaultID interfaces.VaultID) ([]*interfaces.Claim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE vault_id = ? ORDER BY created_at DESC`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectClaims(rows)
}

func collectClaims(rows *sql.Rows) ([]*interfaces.Claim, error) {
	var out []*interfaces.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateClaim(ctx context.Context, c *interfaces.Claim) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE claims SET status = ?, voting_deadline = ?, approval_votes = ?, rejection_votes = ?,
			resolved_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		c.Status, c.VotingDeadline, c.ApprovalVotes, c.RejectionVotes,
		nullableTime(c.ResolvedAt), c.ID, c.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetClaim(ctx, c.ID); errors.Is(getErr, interfaces.ErrNotFound) {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("%w: claim %s", interfaces.ErrVersionConflict, c.ID)
	}
	c.Version++
	return nil
}

func (s *SQLiteStore) UpsertVote(ctx context.Context, v *interfaces.Vote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (claim_id, guardian_id, decision, cast_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (claim_id, guardian_id) DO UPDATE SET decision = excluded.decision, cast_at = excluded.cast_at`,
		v.ClaimID, v.GuardianID, v.Decision, v.CastAt)
	return err
}

func (s *SQLiteStore) ListVotes(ctx context.Context, claimID interfaces.ClaimID) ([]*interfaces.Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT claim_id, guardian_id, decision, cast_at FROM votes WHERE claim_id = ? ORDER BY cast_at`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*interfaces.Vote
	for rows.Next() {
		v := &interfaces.Vote{}
		if err := rows.Scan(&v.ClaimID, &v.GuardianID, &v.Decision, &v.CastAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
