package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/storage"
	"github.com/inferloop/aidrin/pkg/constants"
)

// ResultCache is the slice of the report cache the admin endpoints use.
type ResultCache interface {
	ClearScope(ctx context.Context, scope string) (int, error)
	Stats(ctx context.Context, scope string) (*storage.ScopeStats, error)
}

// CacheHandler exposes per-user cache statistics and clearing.
type CacheHandler struct {
	cache  ResultCache
	logger *logrus.Logger
}

func NewCacheHandler(cache ResultCache, logger *logrus.Logger) *CacheHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &CacheHandler{
		cache:  cache,
		logger: logger,
	}
}

func (h *CacheHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context(), scopeFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)

	cleared, err := h.cache.ClearScope(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"scope":   scope,
		"cleared": cleared,
	}).Info("Cleared result cache")

	if scope == "" {
		scope = storage.AnonymousScope
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scope":   scope,
		"cleared": cleared,
	})
}

func scopeFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(constants.HeaderUserID))
}
