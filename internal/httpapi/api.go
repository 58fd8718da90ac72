// Package httpapi exposes the Courier REST surface: message send, history
// retrieval and presence lookup. Handlers translate the message service's
// error taxonomy into HTTP status codes and keep the JSON field names of the
// wire contract (camelCase).
package httpapi

import (
	"context"
	"net/http"

	"github.com/courier/dm-server/internal/auth"
	"github.com/courier/dm-server/internal/message"
	"github.com/courier/dm-server/internal/metrics"
	"github.com/courier/dm-server/internal/ratelimit"
)

// MessageService is the slice of the message service the API needs.
type MessageService interface {
	Send(ctx context.Context, senderID, receiverID, body string) (*message.Message, error)
	History(ctx context.Context, requesterID, counterpartID string) (*message.History, error)
}

// PresenceChecker reports whether a user has any live WebSocket session.
type PresenceChecker interface {
	Online(ctx context.Context, userID string) (bool, error)
}

// Limiter throttles send requests per authenticated sender.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// API holds the dependencies of the HTTP handlers.
type API struct {
	svc      MessageService
	presence PresenceChecker
	verifier auth.Verifier
	limiter  Limiter // nil disables rate limiting
}

// New creates the REST API. Pass a nil limiter to disable send throttling.
func New(svc MessageService, presence PresenceChecker, verifier auth.Verifier, limiter Limiter) *API {
	return &API{
		svc:      svc,
		presence: presence,
		verifier: verifier,
		limiter:  limiter,
	}
}

// Routes builds the request mux for the API, including the health and
// Prometheus endpoints.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /api/message/send/{receiverId}", a.requireAuth(http.HandlerFunc(a.handleSend)))
	mux.Handle("GET /api/message/get/{receiverId}", a.requireAuth(http.HandlerFunc(a.handleHistory)))
	mux.Handle("GET /api/presence/{userId}", a.requireAuth(http.HandlerFunc(a.handlePresence)))
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}
