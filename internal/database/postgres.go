package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vgrab/vgrab/internal/config"
	"github.com/vgrab/vgrab/internal/models"
)

// PostgresDB holds the users/invites authorization store. The queue core
// never touches it directly; it only sees the IsAuthorized capability check.
type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(cfg *config.PostgresConfig) (*PostgresDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	// Build connection string
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	// Create connection pool
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pgdb := &PostgresDB{pool: pool}

	// Create tables if they don't exist
	if err := pgdb.createTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return pgdb, nil
}

func (p *PostgresDB) createTables(ctx context.Context) error {
	createUsersTable := `
		CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255),
			added_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			added_by BIGINT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		);

		CREATE INDEX IF NOT EXISTS idx_users_is_active ON users(is_active);
	`

	if _, err := p.pool.Exec(ctx, createUsersTable); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	createInvitesTable := `
		CREATE TABLE IF NOT EXISTS invites (
			id UUID PRIMARY KEY,
			created_by BIGINT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			used_by BIGINT,
			used_at TIMESTAMP WITH TIME ZONE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		);

		CREATE INDEX IF NOT EXISTS idx_invites_created_by ON invites(created_by);
	`

	if _, err := p.pool.Exec(ctx, createInvitesTable); err != nil {
		return fmt.Errorf("failed to create invites table: %w", err)
	}

	return nil
}

// EnsureAdmin seeds the admin identity so the bot is usable on first start.
// added_by = 0 means added by the system.
func (p *PostgresDB) EnsureAdmin(ctx context.Context, adminID int64) error {
	query := `
		INSERT INTO users (id, username, added_by, is_active)
		VALUES ($1, 'admin', 0, TRUE)
		ON CONFLICT (id) DO UPDATE SET is_active = TRUE`

	_, err := p.pool.Exec(ctx, query, adminID)
	return err
}

// IsAuthorized is the capability check consulted before every enqueue. The
// result is trusted for one request only and never cached.
func (p *PostgresDB) IsAuthorized(ctx context.Context, chatID int64) (bool, error) {
	var id int64
	query := `SELECT id FROM users WHERE id = $1 AND is_active = TRUE`

	err := p.pool.QueryRow(ctx, query, chatID).Scan(&id)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AddUser inserts a new authorized user. Returns false when the user
// already existed (their record is reactivated instead).
func (p *PostgresDB) AddUser(ctx context.Context, userID int64, username *string, addedBy int64) (bool, error) {
	var existingID int64
	err := p.pool.QueryRow(ctx, `SELECT id FROM users WHERE id = $1`, userID).Scan(&existingID)
	if err != nil && err != pgx.ErrNoRows {
		return false, err
	}

	if err == nil {
		_, err = p.pool.Exec(ctx,
			`UPDATE users SET username = COALESCE($2, username), is_active = TRUE WHERE id = $1`,
			userID, username)
		return false, err
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO users (id, username, added_by) VALUES ($1, $2, $3)`,
		userID, username, addedBy)
	return err == nil, err
}

// DeactivateUser revokes access without deleting history.
func (p *PostgresDB) DeactivateUser(ctx context.Context, userID int64) error {
	_, err := p.pool.Exec(ctx, `UPDATE users SET is_active = FALSE WHERE id = $1`, userID)
	return err
}

func (p *PostgresDB) ListUsers(ctx context.Context) ([]models.User, error) {
	query := `
		SELECT id, username, added_at, added_by, is_active
		FROM users
		ORDER BY added_at ASC`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.AddedAt, &user.AddedBy, &user.IsActive); err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// CreateInvite mints a one-shot invite code.
func (p *PostgresDB) CreateInvite(ctx context.Context, createdBy int64) (string, error) {
	inviteID := uuid.New()

	_, err := p.pool.Exec(ctx,
		`INSERT INTO invites (id, created_by) VALUES ($1, $2)`,
		inviteID, createdBy)
	if err != nil {
		return "", err
	}
	return inviteID.String(), nil
}

// UseInvite consumes an invite and authorizes the user in one transaction.
// Returns false when the code is unknown, spent or deactivated.
func (p *PostgresDB) UseInvite(ctx context.Context, inviteCode string, userID int64) (bool, error) {
	inviteID, err := uuid.Parse(inviteCode)
	if err != nil {
		return false, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM invites WHERE id = $1 AND is_active = TRUE AND used_by IS NULL FOR UPDATE`,
		inviteID).Scan(&id)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := time.Now()
	if _, err := tx.Exec(ctx,
		`UPDATE invites SET used_by = $1, used_at = $2, is_active = FALSE WHERE id = $3`,
		userID, now, inviteID); err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO users (id, added_by) VALUES ($1, 0)
		ON CONFLICT (id) DO UPDATE SET is_active = TRUE`,
		userID); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Health check
func (p *PostgresDB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Close connection
func (p *PostgresDB) Close() {
	p.pool.Close()
}
