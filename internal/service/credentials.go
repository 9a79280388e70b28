package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
	"parley/internal/domain/services"
)

// CredentialService stores per-user provider keys in the api_keys namespace
// of user preferences.
type CredentialService struct {
	prefsRepo repositories.UserPreferencesRepository
	txManager repositories.TransactionManager
	logger    *slog.Logger
}

// NewCredentialService creates a new credential service
func NewCredentialService(
	prefsRepo repositories.UserPreferencesRepository,
	txManager repositories.TransactionManager,
	logger *slog.Logger,
) services.CredentialService {
	return &CredentialService{
		prefsRepo: prefsRepo,
		txManager: txManager,
		logger:    logger,
	}
}

// GetAPIKey returns the caller's key for family, or "" when none is stored
func (s *CredentialService) GetAPIKey(ctx context.Context, userID, family string) (string, error) {
	if userID == "" {
		return "", nil
	}
	prefs, err := s.prefsRepo.GetByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get preferences: %w", err)
	}
	if prefs == nil {
		return "", nil
	}
	keys, err := prefs.GetAPIKeys()
	if err != nil {
		return "", fmt.Errorf("decode api keys: %w", err)
	}
	return keys[family], nil
}

// SetAPIKey stores (or clears, with an empty key) the caller's key for family
func (s *CredentialService) SetAPIKey(ctx context.Context, userID, family, key string) error {
	return s.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		prefs, err := s.prefsRepo.GetByUserID(txCtx, userID)
		if err != nil {
			return fmt.Errorf("get preferences: %w", err)
		}
		now := time.Now()
		if prefs == nil {
			prefs = &models.UserPreferences{
				UserID:      userID,
				Preferences: models.JSONMap{},
				CreatedAt:   now,
			}
		}
		if err := prefs.SetAPIKey(family, key); err != nil {
			return fmt.Errorf("set api key: %w", err)
		}
		prefs.UpdatedAt = now

		if err := s.prefsRepo.Upsert(txCtx, prefs); err != nil {
			return err
		}
		s.logger.Info("api key updated", "user_id", userID, "family", family, "cleared", key == "")
		return nil
	})
}
