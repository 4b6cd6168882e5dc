package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/textsecure/pkg/address"
	"github.com/jmerrifield20/textsecure/pkg/client"
	"go.uber.org/zap"
)

// rowQuerier is the subset of *pgxpool.Pool the store needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads credentials from the device_credentials table (see
// migrations/001_device_credentials.up.sql), one row per profile. Rows are
// written by whatever performed the registration.
//
// Every lookup goes to the database so re-registration elsewhere is picked
// up without restarting.
type PostgresStore struct {
	db      rowQuerier
	profile string
	logger  *zap.Logger
}

var _ client.CredentialStore = (*PostgresStore)(nil)

// NewPostgresStore creates a store reading the row for profile.
func NewPostgresStore(pool *pgxpool.Pool, profile string, logger *zap.Logger) *PostgresStore {
	return newPostgresStore(pool, profile, logger)
}

func newPostgresStore(db rowQuerier, profile string, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, profile: profile, logger: logger}
}

type storedCredentials struct {
	addr     *address.Address
	password string
}

func (s *PostgresStore) lookup(ctx context.Context) (*storedCredentials, error) {
	var (
		number   string
		deviceID int
		password string
	)
	err := s.db.QueryRow(ctx,
		`SELECT number, device_id, password FROM device_credentials WHERE profile = $1`,
		s.profile,
	).Scan(&number, &deviceID, &password)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		s.logger.Warn("credentials lookup failed", zap.String("profile", s.profile), zap.Error(err))
		return nil, fmt.Errorf("query device credentials: %w", err)
	}

	addr, err := address.New(number, deviceID)
	if err != nil {
		return nil, fmt.Errorf("stored credentials for %q: %w", s.profile, err)
	}
	if password == "" {
		return nil, ErrNoCredentials
	}
	return &storedCredentials{addr: addr, password: password}, nil
}

// DeviceIdentity implements client.CredentialStore.
func (s *PostgresStore) DeviceIdentity(ctx context.Context) (string, error) {
	c, err := s.lookup(ctx)
	if err != nil {
		return "", err
	}
	return c.addr.String(), nil
}

// Password implements client.CredentialStore.
func (s *PostgresStore) Password(ctx context.Context) (string, error) {
	c, err := s.lookup(ctx)
	if err != nil {
		return "", err
	}
	return c.password, nil
}
