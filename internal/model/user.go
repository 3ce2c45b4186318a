package model

import "time"

const RoleAdmin = "admin"

// User is an account on the admin dashboard. Scheduled syncs run as the
// first admin user's Google identity; the Google token columns hold that
// user's OAuth credential.
type User struct {
	ID                 int64      `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name"`
	Role               string     `json:"role"`
	PasswordHash       string     `json:"-"`
	GoogleAccessToken  string     `json:"-"`
	GoogleRefreshToken string     `json:"-"`
	GoogleTokenExpiry  *time.Time `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasGoogleCredential reports whether the user has any Google access token
// stored. A missing credential is surfaced as a reauthentication condition
// rather than retried.
func (u *User) HasGoogleCredential() bool {
	return u.GoogleAccessToken != ""
}
