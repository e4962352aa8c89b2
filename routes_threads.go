package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tashilapathum/hazle-backend/chat"
	"github.com/tashilapathum/hazle-backend/identity"
	"github.com/tashilapathum/hazle-backend/security"
)

type threadHandler struct {
	svc *chat.Service
}

type createThreadRequest struct {
	Name string `json:"name,omitempty"`
}

type renameThreadRequest struct {
	Name string `json:"name"`
}

type threadResponse struct {
	ThreadID  string    `json:"thread_id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func registerThreadRoutes(r *mux.Router, svc *chat.Service) {
	h := &threadHandler{svc: svc}
	r.HandleFunc("/threads", h.handleList).Methods("GET")
	r.HandleFunc("/threads", h.handleCreate).Methods("POST")
	r.HandleFunc("/threads/{id}", h.handleRename).Methods("PATCH")
}

func threadToResponse(record *identity.ThreadRecord) threadResponse {
	return threadResponse{
		ThreadID:  record.ExternalThreadID,
		Name:      record.Name,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func (h *threadHandler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := security.UserID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorMessage{Message: "Unauthorized: Please provide a valid token."})
		return
	}

	records, err := h.svc.Threads.ListThreads(r.Context(), userID)
	if err != nil {
		writeChatError(w, r, err)
		return
	}

	out := make([]threadResponse, 0, len(records))
	for i := range records {
		out = append(out, threadToResponse(&records[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *threadHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	userID := security.UserID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorMessage{Message: "Unauthorized: Please provide a valid token."})
		return
	}

	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorMessage{Message: "Bad Request: Check your request body or headers."})
		return
	}

	record, err := h.svc.Threads.CreateThread(r.Context(), userID, strings.TrimSpace(req.Name))
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, threadToResponse(record))
}

func (h *threadHandler) handleRename(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	userID := security.UserID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorMessage{Message: "Unauthorized: Please provide a valid token."})
		return
	}

	var req renameThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, errorMessage{Message: "Please provide a name."})
		return
	}

	record, err := h.svc.Threads.RenameThread(r.Context(), userID, mux.Vars(r)["id"], strings.TrimSpace(req.Name))
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, threadToResponse(record))
}
