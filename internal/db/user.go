package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var errEmptyEmail = errors.New("email is empty")

// GetOrCreateUser maps the identity from the auth proxy to a mailsync user id, creating
// the user on first sight. Emails are matched case-insensitively.
func GetOrCreateUser(ctx context.Context, pool *pgxpool.Pool, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", errEmptyEmail
	}

	var userID string
	// The no-op update makes RETURNING yield the id of an existing row too.
	err := pool.QueryRow(ctx, `
		INSERT INTO users (email)
		VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, email).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve user %q: %w", email, err)
	}

	return userID, nil
}
