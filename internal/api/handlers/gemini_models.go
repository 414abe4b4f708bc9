package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/audio-scribe/backend/internal/gemini"
	"github.com/audio-scribe/backend/internal/settings"
)

const modelCacheTTL = time.Hour

type GeminiModelsHandler struct {
	resolver *settings.Resolver
	baseURL  string

	mu           sync.Mutex
	cachedKey    string
	cachedModels []gemini.Model
	cacheTime    time.Time
}

func NewGeminiModelsHandler(resolver *settings.Resolver, baseURL string) *GeminiModelsHandler {
	return &GeminiModelsHandler{resolver: resolver, baseURL: baseURL}
}

// ListModels returns the Gemini models the configured key can use, for the
// settings UI. Without a key the list is empty.
func (h *GeminiModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	apiKey := h.resolver.Values()[settings.KeyGeminiKey]
	if apiKey == "" {
		jsonResponse(w, []gemini.Model{}, http.StatusOK)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cachedKey == apiKey && len(h.cachedModels) > 0 && time.Since(h.cacheTime) < modelCacheTTL {
		jsonResponse(w, h.cachedModels, http.StatusOK)
		return
	}

	models, err := gemini.New(apiKey, gemini.WithBaseURL(h.baseURL)).ListModels(r.Context())
	if err != nil {
		// A stale list beats none.
		if h.cachedKey == apiKey && len(h.cachedModels) > 0 {
			jsonResponse(w, h.cachedModels, http.StatusOK)
			return
		}
		jsonError(w, "failed to fetch Gemini models: "+err.Error(), http.StatusBadGateway)
		return
	}
	h.cachedKey, h.cachedModels, h.cacheTime = apiKey, models, time.Now()
	jsonResponse(w, models, http.StatusOK)
}
