// Package gateway provides the HTTP surface of rolegate: health and
// metrics, a token-protected /api for chat requests, field submission,
// provider listings and session administration, and signed webhooks for
// chat front ends. It binds to loopback by default.
package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/flemzord/rolegate/internal/core"
	"github.com/flemzord/rolegate/internal/store"
)

// sessionJSON is a serializable conversation mapping.
type sessionJSON struct {
	UserID     int64  `json:"user_id"`
	GroupID    int64  `json:"group_id"`
	RoleID     int64  `json:"role_id"`
	SessionID  string `json:"session_id"`
	CreatedAt  string `json:"created_at"`
	LastUsedAt string `json:"last_used_at"`
}

// handleListSessions returns every session mapping of one user.
func (g *Gateway) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := int64Param(r, "user")
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		list, err := g.store.ListUserSessions(r.Context(), userID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		out := make([]sessionJSON, 0, len(list))
		for _, s := range list {
			out = append(out, sessionJSON{
				UserID:     s.Key.UserID,
				GroupID:    s.Key.GroupID,
				RoleID:     s.Key.RoleID,
				SessionID:  s.SessionID,
				CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339),
				LastUsedAt: s.LastUsedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func sessionKeyParams(r *http.Request) (store.SessionKey, error) {
	var (
		key store.SessionKey
		err error
	)
	if key.UserID, err = int64Param(r, "user"); err != nil {
		return key, err
	}
	if key.GroupID, err = int64Param(r, "group"); err != nil {
		return key, err
	}
	key.RoleID, err = int64Param(r, "role")
	return key, err
}

// handleDeleteSession drops one mapping so the next message starts a new
// conversation.
func (g *Gateway) handleDeleteSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := sessionKeyParams(r)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if err := g.service.ResetSession(r.Context(), key.UserID, key.GroupID, key.RoleID); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// turnJSON is one logged conversation turn.
type turnJSON struct {
	Seq       int64  `json:"seq"`
	Speaker   string `json:"speaker"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// handleSessionHistory returns the logged turns of one mapping's session.
// The optional limit query parameter keeps only the most recent turns.
func (g *Gateway) handleSessionHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := sessionKeyParams(r)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
				writeError(w, http.StatusBadRequest, errBadRequest)
				return
			}
		}

		sess, err := g.store.GetSession(r.Context(), key)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		turns, err := g.store.ListTurns(r.Context(), sess.SessionID, limit)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		out := make([]turnJSON, 0, len(turns))
		for _, t := range turns {
			out = append(out, turnJSON{
				Seq:       t.Seq,
				Speaker:   string(t.Speaker),
				Content:   t.Content,
				CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// moduleJSON is a serializable module info snapshot.
type moduleJSON struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// handleGetAllModules lists all compiled modules (for /api/modules).
func (g *Gateway) handleGetAllModules() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mods := core.GetModules()
		out := make([]moduleJSON, 0, len(mods))
		for _, m := range mods {
			out = append(out, moduleJSON{
				ID:        string(m.ID),
				Namespace: m.ID.Namespace(),
				Name:      m.ID.Name(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
