package credentials

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/ptssworkshopschedule/workshopbot/internal/storage"
	"github.com/ptssworkshopschedule/workshopbot/internal/storage/models"
)

// StorageStore keeps the token in a storage.TokenRepository under a fixed name.
type StorageStore struct {
	repo storage.TokenRepository
	name string
}

// NewStorageStore creates a store for the token called name.
func NewStorageStore(repo storage.TokenRepository, name string) *StorageStore {
	return &StorageStore{repo: repo, name: name}
}

// Load returns the stored token.
func (s *StorageStore) Load(ctx context.Context) (*oauth2.Token, error) {
	m, err := s.repo.LoadToken(ctx, s.name)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
		TokenType:    m.TokenType,
		Expiry:       m.Expiry,
	}, nil
}

// Save stores tok.
func (s *StorageStore) Save(ctx context.Context, tok *oauth2.Token) error {
	return s.repo.SaveToken(ctx, &models.Token{
		Name:         s.name,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	})
}
