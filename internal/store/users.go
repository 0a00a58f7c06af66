package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/erazemk/bazaar/internal/model"
)

// ErrEmailTaken is returned when registering an email that is already used.
var ErrEmailTaken = errors.New("email address is already in use")

// CreateUser creates a new user.
func CreateUser(ctx context.Context, db *sql.DB, uid, email, passwordHash string, profile model.Profile) (*model.User, error) {
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (uid, email, password_hash, name, city, phone) VALUES (?, ?, ?, ?, ?, ?)`,
		uid, email, passwordHash, profile.Name, profile.City, profile.Phone,
	)
	if err != nil {
		var se *sqlite.Error
		// The only constraint a well-formed insert can violate is the email index.
		if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return GetUser(ctx, db, uid)
}

const userColumns = `uid, email, password_hash, name, city, phone, created_at`

func scanUser(row *sql.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.UID, &u.Email, &u.PasswordHash, &u.Name, &u.City, &u.Phone, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser returns a user by uid.
func GetUser(ctx context.Context, db *sql.DB, uid string) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE uid = ?`, uid,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns a user by email, ignoring case.
func GetUserByEmail(ctx context.Context, db *sql.DB, email string) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`, email,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

// CountUsers returns the number of registered users.
func CountUsers(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}
