package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"shiftbot/internal/bot"
	"shiftbot/internal/config"
	"shiftbot/internal/metrics"
)

const (
	eventMessage    = "im.message.receive_v1"
	eventCardAction = "card.action.trigger"

	maxWebhookBody = 1 << 20
	dedupeSize     = 4096
	dedupeWindow   = 10 * time.Minute
)

// webhookHandler decodes platform callbacks and hands them to the bot.
// Redelivered events are answered but not dispatched again.
type webhookHandler struct {
	app    *config.Config
	events EventHandler
	logger zerolog.Logger

	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

func newWebhookHandler(app *config.Config, events EventHandler, logger zerolog.Logger) *webhookHandler {
	return &webhookHandler{
		app:    app,
		events: events,
		logger: logger,
		seen:   expirable.NewLRU[string, struct{}](dedupeSize, nil, dedupeWindow),
	}
}

// firstDelivery records id and reports whether it was new.
func (h *webhookHandler) firstDelivery(id string) bool {
	if id == "" {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen.Contains(id) {
		return false
	}
	h.seen.Add(id, struct{}{})
	return true
}

func (h *webhookHandler) tokenOK(token string) bool {
	want := h.app.App.VerificationToken
	return want == "" || token == want
}

func (h *webhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.reject(w, "unreadable", http.StatusBadRequest, "cannot read body")
		return
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.reject(w, "malformed", http.StatusBadRequest, "invalid json")
		return
	}
	if env.Encrypt != "" {
		h.reject(w, "encrypted", http.StatusBadRequest, "encrypted callbacks are not supported; disable the encrypt key")
		return
	}
	// Handlers run detached from the request so a platform timeout does not
	// cut a half-sent notification chain.
	ctx := context.WithoutCancel(r.Context())

	switch {
	case env.Type == "url_verification":
		if !h.tokenOK(env.Token) {
			h.reject(w, "challenge", http.StatusUnauthorized, "verification token mismatch")
			return
		}
		metrics.RecordWebhook("challenge", "ok")
		writeJSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})

	case env.Header != nil:
		if !h.tokenOK(env.Header.Token) {
			h.reject(w, env.Header.EventType, http.StatusUnauthorized, "verification token mismatch")
			return
		}
		h.handleV2(ctx, w, env)

	case env.Type == "event_callback":
		if !h.tokenOK(env.Token) {
			h.reject(w, "message", http.StatusUnauthorized, "verification token mismatch")
			return
		}
		if !h.firstDelivery(env.UUID) {
			h.duplicate(w, "message", env.UUID)
			return
		}
		h.dispatchMessage(ctx, w, env.Event)

	case env.Action != nil:
		if !h.tokenOK(env.Token) {
			h.reject(w, "card", http.StatusUnauthorized, "verification token mismatch")
			return
		}
		ev := bot.ActionEvent{
			OperatorID: env.OpenID,
			Value:      env.Action.value(),
			MessageID:  env.OpenMessageID,
		}
		// Legacy callbacks carry no event id; the same click on the same card
		// is the same delivery.
		key := "card:" + ev.OperatorID + "|" + ev.MessageID + "|" + ev.Value
		if ev.OperatorID != "" && !h.firstDelivery(key) {
			h.duplicate(w, "card", key)
			return
		}
		h.dispatchAction(ctx, w, ev)

	default:
		metrics.RecordWebhook("doctor", "ok")
		writeJSON(w, http.StatusOK, h.app.Doctor())
	}
}

func (h *webhookHandler) handleV2(ctx context.Context, w http.ResponseWriter, env envelope) {
	kind := env.Header.EventType
	switch kind {
	case eventMessage:
		if !h.firstDelivery(env.Header.EventID) {
			h.duplicate(w, "message", env.Header.EventID)
			return
		}
		h.dispatchMessage(ctx, w, env.Event)
	case eventCardAction:
		if !h.firstDelivery(env.Header.EventID) {
			h.duplicate(w, "card", env.Header.EventID)
			return
		}
		var ev cardEvent
		if len(env.Event) == 0 || json.Unmarshal(env.Event, &ev) != nil {
			h.reject(w, "card", http.StatusBadRequest, "invalid card event")
			return
		}
		h.dispatchAction(ctx, w, bot.ActionEvent{
			OperatorID: ev.Operator.id(),
			Value:      ev.Action.value(),
			MessageID:  ev.Context.OpenMessageID,
		})
	default:
		h.logger.Debug().Str("event_type", kind).Msg("webhook event ignored")
		metrics.RecordWebhook("other", "ignored")
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

func (h *webhookHandler) dispatchMessage(ctx context.Context, w http.ResponseWriter, raw json.RawMessage) {
	var ev messageEvent
	if len(raw) == 0 || json.Unmarshal(raw, &ev) != nil {
		h.reject(w, "message", http.StatusBadRequest, "invalid message event")
		return
	}
	in, ok := ev.inbound()
	if !ok {
		h.reject(w, "message", http.StatusBadRequest, "event carries no message")
		return
	}
	h.events.HandleMessage(ctx, in)
	metrics.RecordWebhook("message", "ok")
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (h *webhookHandler) dispatchAction(ctx context.Context, w http.ResponseWriter, ev bot.ActionEvent) {
	if ev.OperatorID == "" {
		h.reject(w, "card", http.StatusBadRequest, "card action without operator")
		return
	}
	h.events.HandleAction(ctx, ev)
	metrics.RecordWebhook("card", "ok")
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (h *webhookHandler) duplicate(w http.ResponseWriter, kind, id string) {
	h.logger.Debug().Str("event_id", id).Msg("duplicate delivery")
	metrics.RecordWebhook(kind, "duplicate")
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (h *webhookHandler) reject(w http.ResponseWriter, kind string, status int, msg string) {
	h.logger.Warn().Str("kind", kind).Int("status", status).Msg(msg)
	metrics.RecordWebhook(kind, "rejected")
	respondStatusError(w, newAPIError(status, "", msg, nil))
}
