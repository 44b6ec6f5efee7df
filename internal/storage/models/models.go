package models

import "time"

// Token is a persisted OAuth credential.
type Token struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	AccessToken  string    `json:"access_token" db:"access_token"`
	RefreshToken string    `json:"refresh_token" db:"refresh_token"`
	TokenType    string    `json:"token_type" db:"token_type"`
	Expiry       time.Time `json:"expiry" db:"expiry"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// HasRefreshToken reports whether the token can be refreshed without user consent.
func (t *Token) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// Expired reports whether the access token is past its expiry at now.
// A zero expiry never expires.
func (t *Token) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !now.Before(t.Expiry)
}
