package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"parley/internal/domain/models"
)

type prefsStub struct {
	prefs *models.UserPreferences
	err   error
}

func (p *prefsStub) GetByUserID(context.Context, string) (*models.UserPreferences, error) {
	return p.prefs, p.err
}

func (p *prefsStub) Upsert(context.Context, *models.UserPreferences) error { return nil }

func TestPreferencesSystemPromptResolver(t *testing.T) {
	withInstructions := &models.UserPreferences{Preferences: models.JSONMap{"system_instructions": " Answer in French. "}}

	tests := []struct {
		name    string
		prefs   *prefsStub
		userID  string
		request string
		want    string
		wantErr bool
	}{
		{"request only", &prefsStub{}, "u1", "Be brief.", "Be brief.", false},
		{"stored first", &prefsStub{prefs: withInstructions}, "u1", "Be brief.", "Answer in French.\n\nBe brief.", false},
		{"stored only", &prefsStub{prefs: withInstructions}, "u1", "", "Answer in French.", false},
		{"anonymous skips lookup", &prefsStub{err: errors.New("unused")}, "", "Be brief.", "Be brief.", false},
		{"lookup error keeps request", &prefsStub{err: errors.New("db down")}, "u1", "Be brief.", "Be brief.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewSystemPromptResolver(tt.prefs).Resolve(context.Background(), tt.userID, tt.request)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}
