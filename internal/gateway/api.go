package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/flemzord/rolegate/internal/adapter"
	"github.com/flemzord/rolegate/internal/chat"
	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/internal/security"
	"github.com/flemzord/rolegate/internal/store"
	"github.com/go-chi/chi/v5"
)

var errBadRequest = errors.New("gateway: bad request")

// errorJSON is the body of every non-2xx JSON response.
type errorJSON struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var te *adapter.TransportError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, chat.ErrEmptyField),
		errors.Is(err, security.ErrMessageTooLarge),
		errors.Is(err, adapter.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, chat.ErrNoPendingField):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrUnauthorized), adapter.IsUnauthorized(err):
		// 401 is reserved for gateway credentials.
		return http.StatusForbidden
	case errors.Is(err, security.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, chat.ErrDispatcherStopped), errors.Is(err, chat.ErrNoModels):
		return http.StatusServiceUnavailable
	case errors.As(err, &te):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorJSON{Error: err.Error()})
}

// decodeJSON reads a bounded JSON body into v.
func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func int64Param(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return v, nil
}

// providerJSON is a serializable descriptor summary.
type providerJSON struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	BaseURL      string   `json:"base_url"`
	AuthMode     string   `json:"auth_mode"`
	RequiresAuth bool     `json:"requires_auth"`
	Capabilities []string `json:"capabilities"`
	UserFields   []string `json:"user_fields"`
	Models       int      `json:"models"`
}

func (g *Gateway) handleListProviders() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out := []providerJSON{}
		for _, d := range g.registry.Descriptors() {
			p := providerJSON{
				ID:           d.ID,
				Label:        d.Label,
				BaseURL:      d.BaseURL,
				AuthMode:     d.AuthMode,
				RequiresAuth: d.RequiresAuth(),
				Capabilities: []string{},
				UserFields:   []string{},
				Models:       len(d.Models),
			}
			for c, ok := range d.Capabilities {
				if ok {
					p.Capabilities = append(p.Capabilities, string(c))
				}
			}
			for key := range d.UserFields {
				p.UserFields = append(p.UserFields, key)
			}
			slices.Sort(p.Capabilities)
			slices.Sort(p.UserFields)
			out = append(out, p)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// modelJSON is a selectable model with its auth requirement.
type modelJSON struct {
	provider.Model
	Ref          string `json:"ref"`
	RequiresAuth bool   `json:"requires_auth"`
}

func (g *Gateway) handleListModels() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out := []modelJSON{}
		for _, m := range g.registry.Models() {
			out = append(out, modelJSON{
				Model:        m,
				Ref:          m.FullID(),
				RequiresAuth: g.service.RequiresAuth(m.FullID()),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// chatRequest is the body of POST /api/chat.
type chatRequest struct {
	UserID    int64  `json:"user_id"`
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	ReplyText string `json:"reply_text"`
	Model     string `json:"model"`
	Token     string `json:"token"`
}

// handleChat runs one message synchronously. A reply that needs a user
// field answers 409 with the field request.
func (g *Gateway) handleChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := g.decodeJSON(w, r, &req); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if req.Role == "" || req.Content == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: role and content are required", errBadRequest))
			return
		}

		role, err := g.service.RoleByName(r.Context(), req.Role)
		if err != nil {
			writeError(w, statusFor(err), fmt.Errorf("role %q: %w", req.Role, err))
			return
		}

		reply, err := g.service.Handle(r.Context(), chat.Request{
			UserID:    req.UserID,
			ChatID:    req.ChatID,
			MessageID: req.MessageID,
			Role:      role,
			Content:   req.Content,
			ReplyText: req.ReplyText,
			Token:     req.Token,
			ModelRef:  req.Model,
		})
		if err != nil {
			g.logger.Error("chat request failed", "role", req.Role, "user_id", req.UserID, "error", err)
			writeError(w, statusFor(err), err)
			return
		}

		code := http.StatusOK
		if reply.NeedsField != nil {
			code = http.StatusConflict
		}
		writeJSON(w, code, reply)
	}
}

// fieldRequest is the body of POST /api/fields.
type fieldRequest struct {
	UserID int64  `json:"user_id"`
	Value  string `json:"value"`
}

// pendingJSON describes the request a submitted field answered.
type pendingJSON struct {
	ProviderID string `json:"provider_id"`
	Key        string `json:"key"`
	ChatID     int64  `json:"chat_id"`
	MessageID  int64  `json:"message_id"`
	RoleName   string `json:"role_name"`
	Replayed   bool   `json:"replayed"`
}

// handleSubmitField stores a field value for the user's pending request.
// When the dispatcher runs, the original message is replayed through it.
func (g *Gateway) handleSubmitField() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req fieldRequest
		if err := g.decodeJSON(w, r, &req); err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		p, err := g.service.SubmitField(r.Context(), req.UserID, req.Value)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		out := pendingJSON{
			ProviderID: p.ProviderID,
			Key:        p.Key,
			ChatID:     p.ChatID,
			MessageID:  p.MessageID,
			RoleName:   p.RoleName,
		}
		if g.dispatcher != nil {
			out.Replayed = g.dispatcher.ReplayAsync(p) == nil
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// authRequest is the body of POST /api/auth.
type authRequest struct {
	UserID  int64  `json:"user_id"`
	GroupID int64  `json:"group_id"`
	Token   string `json:"token"`
	Model   string `json:"model"`
}

// handleAuthorize validates and stores a user token.
func (g *Gateway) handleAuthorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authRequest
		if err := g.decodeJSON(w, r, &req); err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		if _, err := g.service.Authorize(r.Context(), chat.AuthRequest{
			UserID:   req.UserID,
			GroupID:  req.GroupID,
			Token:    req.Token,
			ModelRef: req.Model,
		}); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// handleSubmitMessage feeds a front-end message into the dispatcher.
func (g *Gateway) handleSubmitMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in chat.Inbound
		if err := g.decodeJSON(w, r, &in); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if err := g.dispatcher.Submit(r.Context(), in); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
	}
}
