package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is an account row. Role is one of the common.Role* constants.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// CreateUser inserts a new account.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	const q = `INSERT INTO users (user_id, email, name, password_hash, role, created_at)
		VALUES ($1,$2,$3,$4,$5,now())`
	_, err := s.db.Exec(ctx, q, u.ID, u.Email, u.Name, u.PasswordHash, u.Role)
	return err
}

// GetUserByEmail fetches an account by its unique email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const q = `SELECT user_id, email, name, password_hash, role, created_at FROM users WHERE email=$1`
	var u User
	err := s.db.QueryRow(ctx, q, email).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return u, err
}

// GetUserByID fetches an account by primary key.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	const q = `SELECT user_id, email, name, password_hash, role, created_at FROM users WHERE user_id=$1`
	var u User
	err := s.db.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return u, err
}
