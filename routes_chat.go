package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tashilapathum/hazle-backend/chat"
	"github.com/tashilapathum/hazle-backend/identity"
	"github.com/tashilapathum/hazle-backend/security"
)

type chatHandler struct {
	svc *chat.Service
}

type chatRequest struct {
	Text     string `json:"text"`
	ThreadID string `json:"thread_id,omitempty"`
}

type chatMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsFromMe  bool      `json:"isFromMe"`
	ThreadID  string    `json:"thread_id"`
	Timestamp time.Time `json:"timestamp"`
}

type errorMessage struct {
	Message string `json:"message"`
}

func registerChatRoutes(r *mux.Router, svc *chat.Service) {
	h := &chatHandler{svc: svc}
	r.HandleFunc("/chat", h.handleChat).Methods("POST")
	r.HandleFunc("/chat/ws", h.handleChatWS).Methods("GET")
}

func (h *chatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	userID := security.UserID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorMessage{Message: "Unauthorized: Please provide a valid token."})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorMessage{Message: "Bad Request: Check your request body or headers."})
		return
	}

	reply, thread, err := h.svc.Send(r.Context(), userID, strings.TrimSpace(req.ThreadID), req.Text, nil)
	if err != nil {
		writeChatError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatMessage{
		ID:        uuid.NewString(),
		Text:      reply,
		IsFromMe:  false,
		ThreadID:  thread.ExternalThreadID,
		Timestamp: time.Now().UTC(),
	})
}

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Token auth happens before the upgrade; origin is not the guard.
		return true
	},
}

type wsFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message any    `json:"message,omitempty"`
}

// handleChatWS relays reply fragments to the client as the run streams them,
// then closes the turn with a done frame carrying the full message.
func (h *chatHandler) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := security.UserID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorMessage{Message: "Unauthorized: Please provide a valid token."})
		return
	}

	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		onDelta := func(fragment string) {
			conn.WriteJSON(wsFrame{Type: "delta", Text: fragment})
		}

		reply, thread, err := h.svc.Send(r.Context(), userID, strings.TrimSpace(req.ThreadID), req.Text, onDelta)
		if err != nil {
			_, message := chatErrorResponse(r, err)
			if writeErr := conn.WriteJSON(wsFrame{Type: "error", Text: message.Message}); writeErr != nil {
				return
			}
			continue
		}

		done := wsFrame{
			Type: "done",
			Message: chatMessage{
				ID:        uuid.NewString(),
				Text:      reply,
				IsFromMe:  false,
				ThreadID:  thread.ExternalThreadID,
				Timestamp: time.Now().UTC(),
			},
		}
		if err := conn.WriteJSON(done); err != nil {
			return
		}
	}
}

func writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := chatErrorResponse(r, err)
	writeJSON(w, status, message)
}

// chatErrorResponse maps the chat error taxonomy onto HTTP statuses. Upstream
// detail stays in the logs; callers get stable messages.
func chatErrorResponse(r *http.Request, err error) (int, errorMessage) {
	var validationErr *chat.ValidationError
	var provisioningErr *chat.RemoteProvisioningError
	var incompleteErr *chat.RunIncompleteError
	var upstreamErr *chat.UpstreamError
	var storeErr *identity.StoreError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, errorMessage{Message: validationErr.Reason}
	case errors.Is(err, chat.ErrAccessDenied):
		return http.StatusUnauthorized, errorMessage{Message: "Chat thread not found or access denied. Please try creating a new chat."}
	case errors.Is(err, chat.ErrThreadNotFound):
		return http.StatusNotFound, errorMessage{Message: "Chat thread not found. Please try creating a new chat."}
	case errors.Is(err, chat.ErrConcurrentRun):
		return http.StatusConflict, errorMessage{Message: "This chat is still answering a previous message. Please wait and try again."}
	case errors.Is(err, chat.ErrRunTimeout):
		log.Printf("Chat request timed out on %s: %v", r.URL.Path, err)
		return http.StatusGatewayTimeout, errorMessage{Message: "The assistant took too long to respond. Please try again."}
	case errors.As(err, &provisioningErr):
		log.Printf("Provisioning failed on %s: %v", r.URL.Path, err)
		return http.StatusBadGateway, errorMessage{Message: "Failed to set up the assistant. Please try again."}
	case errors.As(err, &incompleteErr):
		log.Printf("Run incomplete on %s: %v", r.URL.Path, err)
		return http.StatusBadGateway, errorMessage{Message: "Failed to get AI assistant response. Please try again."}
	case errors.As(err, &upstreamErr):
		log.Printf("Upstream call failed on %s: %v", r.URL.Path, err)
		return http.StatusBadGateway, errorMessage{Message: "Failed to get AI assistant response. Please try again."}
	case errors.As(err, &storeErr):
		log.Printf("Store failure on %s: %v", r.URL.Path, err)
		return http.StatusInternalServerError, errorMessage{Message: "Internal Server Error"}
	default:
		log.Printf("Unhandled error on %s: %v", r.URL.Path, err)
		return http.StatusInternalServerError, errorMessage{Message: "Internal Server Error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
