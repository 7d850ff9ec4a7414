package models

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoRecord           = errors.New("models: no matching record found")
	ErrInvalidCredentials = errors.New("models: invalid credentials")
	ErrDuplicateEmail     = errors.New("models: duplicate email")
)

type UserModelInterface interface {
	Authenticate(email, password string) (int, error)
	Exists(id int) (bool, error)
}

type User struct {
	ID             int
	Username       string
	Email          string
	HashedPassword []byte
	Authorised     bool
	Admin          bool
	Created        time.Time
}

type UserModel struct {
	DB *sql.DB
}

// Authenticate returns the user's ID when email and password match an
// authorised account.
func (m *UserModel) Authenticate(email, password string) (int, error) {
	var (
		id             int
		hashedPassword []byte
	)
	stmt := "SELECT id, password FROM users WHERE email = ? AND authorised = 1"
	err := m.DB.QueryRow(stmt, email).Scan(&id, &hashedPassword)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	err = bcrypt.CompareHashAndPassword(hashedPassword, []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}
	return id, nil
}

func (m *UserModel) Exists(id int) (bool, error) {
	var exists bool
	err := m.DB.QueryRow("SELECT EXISTS(SELECT true FROM users WHERE id = ?)", id).Scan(&exists)
	return exists, err
}

// InsertAdmin creates the first admin account unless one already exists.
// It reports whether a row was written.
func (m *UserModel) InsertAdmin(username, email, password string) (bool, error) {
	var id int
	err := m.DB.QueryRow("SELECT id FROM users WHERE admin = 1 LIMIT 1").Scan(&id)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("error checking for existing admin: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	_, err = m.DB.Exec("INSERT INTO users (username, email, password, authorised, admin, created) VALUES (?, ?, ?, 1, 1, ?)",
		username, email, string(hashed), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("error inserting admin user: %w", err)
	}
	return true, nil
}
