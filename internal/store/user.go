package store

import (
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/feedcal/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userCols = `id, email, name, role, password_hash, google_access_token, google_refresh_token, google_token_expiry, created_at, updated_at`

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var expiry sql.NullTime

	err := scanner.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash,
		&u.GoogleAccessToken, &u.GoogleRefreshToken, &expiry, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if expiry.Valid {
		t := expiry.Time
		u.GoogleTokenExpiry = &t
	}
	return &u, nil
}

func (s *UserStore) Create(email, name, role string) (*model.User, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (email, name, role) VALUES (?, ?, ?)`,
		email, name, role,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// FirstAdmin returns the earliest-created admin user, or nil if none exists.
// Scheduled data functions run as this identity.
func (s *UserStore) FirstAdmin() (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE role = ? ORDER BY id LIMIT 1`, model.RoleAdmin)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get first admin: %w", err)
	}
	return u, nil
}

func (s *UserStore) SetPassword(id int64, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = s.db.Exec(`UPDATE users SET password_hash = ? WHERE id = ?`, string(hash), id)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

func (s *UserStore) CheckPassword(id int64, password string) (bool, error) {
	var hash string
	err := s.db.QueryRow(`SELECT password_hash FROM users WHERE id = ?`, id).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get password hash: %w", err)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// UpdateGoogleTokens persists a (possibly refreshed) OAuth credential.
// The access token is always written; the refresh token is written only
// when non-empty, so a refresh response that omits it never clears the
// stored one.
func (s *UserStore) UpdateGoogleTokens(id int64, accessToken, refreshToken string, expiry time.Time) error {
	var expiryVal sql.NullTime
	if !expiry.IsZero() {
		expiryVal = sql.NullTime{Time: expiry.UTC(), Valid: true}
	}

	if refreshToken != "" {
		_, err := s.db.Exec(
			`UPDATE users SET google_access_token = ?, google_refresh_token = ?, google_token_expiry = ? WHERE id = ?`,
			accessToken, refreshToken, expiryVal, id,
		)
		if err != nil {
			return fmt.Errorf("update google tokens: %w", err)
		}
		return nil
	}

	_, err := s.db.Exec(
		`UPDATE users SET google_access_token = ?, google_token_expiry = ? WHERE id = ?`,
		accessToken, expiryVal, id,
	)
	if err != nil {
		return fmt.Errorf("update google access token: %w", err)
	}
	return nil
}
