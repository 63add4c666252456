package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type StartConversationRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title,omitempty"`
}

func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	c, err := h.svc.StartConversation(r.Context(), userID, req.Title)
	if err != nil {
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"conversation_id": c.ID.String(),
	})
}

type ChatRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

func (h *Handler) decodeTurn(r *http.Request) (TurnRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return TurnRequest{}, fmt.Errorf("invalid request body")
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return TurnRequest{}, fmt.Errorf("invalid user ID")
	}
	turn := TurnRequest{UserID: userID, Message: req.Message}
	if req.ConversationID != "" {
		convID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return TurnRequest{}, fmt.Errorf("invalid conversation ID")
		}
		turn.ConversationID = &convID
	}
	return turn, nil
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	turn, err := h.decodeTurn(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.svc.ProcessTurn(r.Context(), turn)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "Processing failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(result)
}

type streamFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// HandleChatStream runs one turn while streaming its status events over SSE,
// closing with a final frame carrying the full turn result.
func (h *Handler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	turn, err := h.decodeTurn(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	events := make(chan StatusEvent, 32)
	type outcome struct {
		result *TurnResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := h.svc.ProcessTurnStream(r.Context(), turn, events)
		done <- outcome{result: res, err: err}
		close(events)
	}()

	for event := range events {
		data, _ := json.Marshal(streamFrame{Type: "status", Data: event})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	out := <-done
	if out.err != nil {
		data, _ := json.Marshal(streamFrame{Type: "error", Data: out.err.Error()})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		return
	}
	data, _ := json.Marshal(streamFrame{Type: "final", Data: out.result})
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	msgs, err := h.svc.ListMessages(r.Context(), convID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(msgs)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/conversations", h.StartConversation)
	r.Get("/conversations/{id}/messages", h.ListMessages)
	r.Post("/chat", h.HandleChat)
	r.Post("/chat/stream", h.HandleChatStream)
}
