package storage

import (
	"context"

	"github.com/ptssworkshopschedule/workshopbot/internal/storage/models"
)

// TokenRepository persists OAuth tokens by name.
// LoadToken fails with errors.ErrTokenNotFound when no token is stored.
type TokenRepository interface {
	LoadToken(ctx context.Context, name string) (*models.Token, error)
	SaveToken(ctx context.Context, token *models.Token) error
	DeleteToken(ctx context.Context, name string) error
}

// Storage combines the repositories with connection management.
type Storage interface {
	TokenRepository
	Close() error
	Ping(ctx context.Context) error
}
