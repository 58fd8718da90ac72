package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/courier/dm-server/internal/message"
	"github.com/courier/dm-server/internal/metrics"
	"github.com/courier/dm-server/internal/ratelimit"
)

// sendRequest is the body of POST /api/message/send/{receiverId}.
type sendRequest struct {
	Message string `json:"message"`
}

// sendResponse mirrors the wire contract for a successful send.
type sendResponse struct {
	Message    string           `json:"message"`
	NewMessage *message.Message `json:"newMessage"`
}

// historyResponse is the partitioned conversation view for the requester.
type historyResponse struct {
	SenderMessages   []*message.Message `json:"senderMessages"`
	ReceiverMessages []*message.Message `json:"receiverMessages"`
	ConversationID   string             `json:"conversationId"`
	SenderID         string             `json:"senderId"`
	ReceiverID       string             `json:"receiverId"`
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	senderID := requestUserID(r)
	receiverID := r.PathValue("receiverId")

	if a.limiter != nil {
		allowed, err := a.limiter.Allow(r.Context(), senderID, ratelimit.RuleSend)
		if err == nil && !allowed {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := a.svc.Send(r.Context(), senderID, receiverID, req.Message)
	if err != nil {
		var verr *message.ValidationError
		if errors.As(err, &verr) {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		log.Printf("[httpapi] send from=%s to=%s failed: %v", senderID, receiverID, err)
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, sendResponse{
		Message:    "Message sent successfully",
		NewMessage: msg,
	})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	requesterID := requestUserID(r)
	receiverID := r.PathValue("receiverId")

	hist, err := a.svc.History(r.Context(), requesterID, receiverID)
	if err != nil {
		if errors.Is(err, message.ErrNoConversation) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		var verr *message.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		log.Printf("[httpapi] history requester=%s other=%s failed: %v", requesterID, receiverID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		SenderMessages:   hist.Sent,
		ReceiverMessages: hist.Received,
		ConversationID:   hist.ConversationID,
		SenderID:         requesterID,
		ReceiverID:       receiverID,
	})
}

func (a *API) handlePresence(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	online, err := a.presence.Online(r.Context(), userID)
	if err != nil {
		log.Printf("[httpapi] presence lookup user=%s failed: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId": userID,
		"online": online,
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[httpapi] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
