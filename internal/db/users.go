package db

import (
	"context"
	"database/sql"

	"wager-exchange/internal/model"
)

func CreateUser(ctx context.Context, q Queryer, id, displayName, apiKey string, role model.Role) (*model.User, error) {
	u := &model.User{}
	err := q.QueryRowContext(ctx,
		`INSERT INTO users (id, display_name, role, api_key) VALUES ($1,$2,$3,$4)
		 RETURNING id, display_name, role, api_key, created_at`,
		id, displayName, role, apiKey,
	).Scan(&u.ID, &u.DisplayName, &u.Role, &u.APIKey, &u.CreatedAt)
	return u, err
}

func GetUserByAPIKey(ctx context.Context, q *sql.DB, apiKey string) (*model.User, error) {
	u := &model.User{}
	err := q.QueryRowContext(ctx,
		`SELECT id, display_name, role, api_key, created_at FROM users WHERE api_key=$1`, apiKey,
	).Scan(&u.ID, &u.DisplayName, &u.Role, &u.APIKey, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func GetUser(ctx context.Context, q *sql.DB, id string) (*model.User, error) {
	u := &model.User{}
	err := q.QueryRowContext(ctx,
		`SELECT id, display_name, role, api_key, created_at FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.DisplayName, &u.Role, &u.APIKey, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// DeleteUser removes a user and returns the row as it existed before
// deletion, for the admin endpoint's "snapshot of deleted user" response
// (spec.md §6). Cascades to balances and orders via FK ON DELETE CASCADE.
func DeleteUser(ctx context.Context, q *sql.DB, id string) (*model.User, error) {
	u, err := GetUser(ctx, q, id)
	if err != nil || u == nil {
		return u, err
	}
	_, err = q.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	return u, err
}
