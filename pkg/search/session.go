package search

import (
	"context"
	"strings"

	"github.com/DjangoSpop/promptemple-sub000/pkg/cache"
)

func sessionKey(sessionID string) string {
	return PrefixSession + ":" + sessionID + ":recent"
}

// recordSessionQuery appends query to the session history, keeping the
// newest entries only. Concurrent searches in one session may drop an entry.
func (e *Engine) recordSessionQuery(ctx context.Context, sessionID, query string) {
	key := sessionKey(sessionID)

	var recent []string
	e.cache.Get(ctx, key, &recent)

	recent = append(recent, query)
	if over := len(recent) - e.config.SessionHistory; over > 0 {
		recent = recent[over:]
	}

	if err := e.cache.Set(context.WithoutCancel(ctx), key, recent, e.config.SessionTTL, cache.AllTiers); err != nil {
		e.logger.Debug("Session history not saved", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

// RecentQueries returns the session's recent normalized queries, newest first
func (e *Engine) RecentQueries(ctx context.Context, sessionID string) ([]string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrEmptySession
	}

	var recent []string
	e.cache.Get(ctx, sessionKey(sessionID), &recent)

	out := make([]string, len(recent))
	for i, q := range recent {
		out[len(recent)-1-i] = q
	}
	return out, nil
}
