package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/audio-scribe/backend/internal/db"
	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/audio-scribe/backend/internal/settings"
)

type SettingsHandler struct {
	database *db.Database
	resolver *settings.Resolver
	engines  []string
}

// NewSettingsHandler validates engine names against engines.
func NewSettingsHandler(database *db.Database, resolver *settings.Resolver, engines []string) *SettingsHandler {
	return &SettingsHandler{database: database, resolver: resolver, engines: engines}
}

type settingResponse struct {
	settings.Def
	Value    string `json:"value"`
	HasValue bool   `json:"has_value"`
	// Saved is false when the value comes from the configuration.
	Saved bool `json:"saved"`
}

// GetSettings returns the effective settings (secrets are masked)
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	saved, err := h.database.GetAllSettings()
	if err != nil {
		jsonError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	effective := h.resolver.Values()

	result := make([]settingResponse, 0, len(settings.Defs))
	for _, def := range settings.Defs {
		val := effective[def.Key]
		if def.Secret {
			val = settings.Mask(val)
		}
		result = append(result, settingResponse{
			Def:      def,
			Value:    val,
			HasValue: effective[def.Key] != "",
			Saved:    saved[def.Key] != "",
		})
	}
	jsonResponse(w, result, http.StatusOK)
}

// UpdateSettings saves settings from the request body. An empty value
// removes the saved setting so the configured value applies again; masked
// values are ignored.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	for key, value := range updates {
		if _, ok := settings.Lookup(key); !ok {
			jsonError(w, "unknown setting: "+key, http.StatusBadRequest)
			return
		}
		if err := h.validate(key, strings.TrimSpace(value)); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	for key, value := range updates {
		value = strings.TrimSpace(value)
		if settings.IsMasked(value) {
			continue
		}
		var err error
		if value == "" {
			err = h.database.DeleteSetting(key)
		} else {
			err = h.database.SetSetting(key, value)
		}
		if err != nil {
			jsonError(w, "failed to save setting: "+key, http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SettingsHandler) validate(key, value string) error {
	if value == "" || settings.IsMasked(value) {
		return nil
	}
	switch key {
	case settings.KeyEngine:
		if !slices.Contains(h.engines, value) {
			return fmt.Errorf("%s must be one of %s", key, strings.Join(h.engines, ", "))
		}
	case settings.KeyPostProvider:
		if !slices.Contains(postprocess.Providers, value) {
			return fmt.Errorf("%s must be one of %s", key, strings.Join(postprocess.Providers, ", "))
		}
	}
	return nil
}
