package models

import (
	"encoding/json"
	"time"
)

// JSONMap is a type alias for JSONB columns
type JSONMap map[string]interface{}

// UserPreferences represents user-specific settings.
// All preferences are stored in a single JSONB column with namespaced structure.
type UserPreferences struct {
	UserID      string    `json:"user_id" db:"user_id"`
	Preferences JSONMap   `json:"preferences" db:"preferences"` // Namespaced JSONB: {api_keys, system_instructions}
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// APIKeys is the api_keys namespace: provider family -> key.
type APIKeys map[string]string

// GetAPIKeys extracts the api_keys namespace from preferences
func (up *UserPreferences) GetAPIKeys() (APIKeys, error) {
	if up.Preferences == nil {
		return APIKeys{}, nil
	}

	raw, ok := up.Preferences["api_keys"]
	if !ok || raw == nil {
		return APIKeys{}, nil
	}

	// Re-marshal to ensure type safety
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	keys := APIKeys{}
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// SetAPIKey sets or clears (empty key) one entry of the api_keys namespace
func (up *UserPreferences) SetAPIKey(family, key string) error {
	keys, err := up.GetAPIKeys()
	if err != nil {
		return err
	}
	if key == "" {
		delete(keys, family)
	} else {
		keys[family] = key
	}

	if up.Preferences == nil {
		up.Preferences = JSONMap{}
	}
	m := make(map[string]interface{}, len(keys))
	for k, v := range keys {
		m[k] = v
	}
	up.Preferences["api_keys"] = m
	return nil
}

// GetSystemInstructions extracts system_instructions from preferences
func (up *UserPreferences) GetSystemInstructions() *string {
	if up.Preferences == nil {
		return nil
	}

	str, ok := up.Preferences["system_instructions"].(string)
	if !ok {
		return nil
	}
	return &str
}
