package infra

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LocalOptions describes the local PostgreSQL the stress test falls back to
// when Docker is unavailable.
type LocalOptions struct {
	Host     string
	Port     string
	Database string
	Role     string
	// AdminDSNs are tried in order; the first that connects creates the role
	// and database.
	AdminDSNs []string
}

// LocalOptionsFromEnv reads STRESS_TEST_PG_HOST, STRESS_TEST_PG_PORT,
// STRESS_TEST_PG_DATABASE, STRESS_TEST_PG_ROLE and STRESS_TEST_PG_ADMIN_DSN.
func LocalOptionsFromEnv() LocalOptions {
	opts := LocalOptions{
		Host:     envOr("STRESS_TEST_PG_HOST", "127.0.0.1"),
		Port:     envOr("STRESS_TEST_PG_PORT", "5432"),
		Database: envOr("STRESS_TEST_PG_DATABASE", "rfqflow_stress"),
		Role:     envOr("STRESS_TEST_PG_ROLE", "rfqflow_stress"),
	}
	if dsn := os.Getenv("STRESS_TEST_PG_ADMIN_DSN"); dsn != "" {
		opts.AdminDSNs = []string{dsn}
		return opts
	}
	for _, user := range []string{"postgres", os.Getenv("USER")} {
		if user == "" {
			continue
		}
		opts.AdminDSNs = append(opts.AdminDSNs,
			opts.dsn(url.User(user), "postgres"),
			opts.dsn(url.UserPassword(user, "postgres"), "postgres"))
	}
	return opts
}

func (o LocalOptions) dsn(user *url.Userinfo, database string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     user,
		Host:     net.JoinHostPort(o.Host, o.Port),
		Path:     "/" + database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// InitLocalDatabase recreates the stress database on a local server described
// by the environment and returns a DSN for a role owning it.
func InitLocalDatabase(ctx context.Context) (string, error) {
	return InitLocalDatabaseWith(ctx, LocalOptionsFromEnv())
}

func InitLocalDatabaseWith(ctx context.Context, opts LocalOptions) (string, error) {
	if !isPostgresRunning(ctx, opts) {
		return "", fmt.Errorf("postgres not accepting connections on %s", net.JoinHostPort(opts.Host, opts.Port))
	}

	if len(opts.AdminDSNs) == 0 {
		return "", fmt.Errorf("no admin DSN to create %s with", opts.Database)
	}
	var (
		admin *pgx.Conn
		err   error
	)
	for _, dsn := range opts.AdminDSNs {
		if admin, err = pgx.Connect(ctx, dsn); err == nil {
			break
		}
	}
	if admin == nil {
		return "", fmt.Errorf("connect as admin: %w", err)
	}
	defer admin.Close(ctx)

	role := pgx.Identifier{opts.Role}.Sanitize()
	db := pgx.Identifier{opts.Database}.Sanitize()
	// uuids carry no quotes, so the literal is safe to inline.
	password := uuid.NewString()

	stmts := []string{
		fmt.Sprintf(`DO $$ BEGIN CREATE ROLE %s WITH LOGIN; EXCEPTION WHEN duplicate_object THEN NULL; END $$`, role),
		fmt.Sprintf(`ALTER ROLE %s WITH LOGIN PASSWORD '%s'`, role, password),
	}
	for _, stmt := range stmts {
		if _, err := admin.Exec(ctx, stmt); err != nil {
			return "", fmt.Errorf("prepare role %s: %w", opts.Role, err)
		}
	}

	_, _ = admin.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`, opts.Database)
	if _, err := admin.Exec(ctx, "DROP DATABASE IF EXISTS "+db); err != nil {
		return "", fmt.Errorf("drop database %s: %w", opts.Database, err)
	}
	if _, err := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s OWNER %s", db, role)); err != nil {
		return "", fmt.Errorf("create database %s: %w", opts.Database, err)
	}

	return opts.dsn(url.UserPassword(opts.Role, password), opts.Database), nil
}

func isPostgresRunning(ctx context.Context, opts LocalOptions) bool {
	return exec.CommandContext(ctx, "pg_isready", "-h", opts.Host, "-p", opts.Port).Run() == nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
