package model

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// Validation errors.
var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrWeakPassword = errors.New("password should be at least 6 characters")
)

// Profile holds the details collected at registration.
type Profile struct {
	Name  string `json:"name"`
	City  string `json:"city"`
	Phone string `json:"phone"`
}

// User is a registered account.
type User struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Profile
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the signed-in principal as seen by the view models.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Profile
}

// Identity returns the identity of u.
func (u *User) Identity() *Identity {
	return &Identity{UID: u.UID, Email: u.Email, Profile: u.Profile}
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare address.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword checks the password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}
