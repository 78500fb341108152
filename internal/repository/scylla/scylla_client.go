package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"admin-auth-service/internal/config"
	"admin-auth-service/internal/models"
)

var ErrNotFound = errors.New("not found")

// Statements are prepared lazily by gocql on first use and cached per session.
const (
	stmtGetAdminByEmail = `
        SELECT email, admin_id, role_level, password_hash, mfa_secret, is_active, created_by, created_at
        FROM admin_users WHERE email = ?`

	stmtUpsertAdmin = `
        INSERT INTO admin_users (
            email, admin_id, role_level, password_hash, mfa_secret, is_active, created_by, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	stmtUpdatePasswordHash = `
        UPDATE admin_users SET password_hash = ? WHERE email = ?`

	stmtInsertSecurityEvent = `
        INSERT INTO security_events (
            event_date, event_bucket, event_time, event_id, sequence, subject_id, action, resource,
            severity, details, source_address, user_agent, prev_hash, hash
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS admin_users (
        email text PRIMARY KEY,
        admin_id text,
        role_level text,
        password_hash text,
        mfa_secret blob,
        is_active boolean,
        created_by text,
        created_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS security_events (
        event_date text,
        event_bucket int,
        event_time timestamp,
        event_id uuid,
        sequence bigint,
        subject_id text,
        action text,
        resource text,
        severity text,
        details map<text, text>,
        source_address text,
        user_agent text,
        prev_hash text,
        hash text,
        PRIMARY KEY ((event_date, event_bucket), event_time, event_id)
    ) WITH CLUSTERING ORDER BY (event_time DESC, event_id ASC)`,
}

type ScyllaClient struct {
	Session *gocql.Session
	logger  *zap.Logger
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        time.Second,
		NumRetries: 2,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 config.GetEnv("SCYLLA_CA_FILE", "/app/certs/ca.pem"),
			CertPath:               config.GetEnv("SCYLLA_CERT_FILE", "/app/certs/client.pem"),
			KeyPath:                config.GetEnv("SCYLLA_KEY_FILE", "/app/certs/client.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return &ScyllaClient{Session: session, logger: logger}, nil
}

// EnsureSchema creates the tables this service owns.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *ScyllaClient) GetAdminByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	u := &models.AdminUser{}
	err := s.Session.Query(stmtGetAdminByEmail, email).WithContext(ctx).Scan(
		&u.Email, &u.AdminID, &u.RoleLevel, &u.PasswordHash, &u.MFASecret,
		&u.IsActive, &u.CreatedBy, &u.CreatedAt,
	)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin user: %w", err)
	}
	return u, nil
}

func (s *ScyllaClient) UpsertAdmin(ctx context.Context, u *models.AdminUser) error {
	err := s.Session.Query(stmtUpsertAdmin,
		u.Email, u.AdminID, u.RoleLevel, u.PasswordHash, u.MFASecret,
		u.IsActive, u.CreatedBy, u.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to upsert admin user: %w", err)
	}
	return nil
}

func (s *ScyllaClient) UpdatePasswordHash(ctx context.Context, email, hash string) error {
	if err := s.Session.Query(stmtUpdatePasswordHash, hash, email).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	return nil
}

func (s *ScyllaClient) InsertSecurityEvent(ctx context.Context, date string, bucket int, ev models.SecurityEvent) error {
	eventID, err := gocql.ParseUUID(ev.ID)
	if err != nil {
		return fmt.Errorf("invalid event id %q: %w", ev.ID, err)
	}
	err = s.Session.Query(stmtInsertSecurityEvent,
		date, bucket, ev.Timestamp, eventID, int64(ev.Sequence), ev.SubjectID, ev.Action, ev.Resource,
		string(ev.Severity), ev.Details, ev.SourceAddress, ev.UserAgent, ev.PrevHash, ev.Hash,
	).WithContext(ctx).Idempotent(true).Exec()
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		s.logger.Info("ScyllaDB client closed")
	}
}
