package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatbackend/internal/domain"
	"chatbackend/internal/service"
	"chatbackend/internal/ws"
)

type messageCreateRequest struct {
	ConversationID string              `json:"conversationId"`
	ChatID         string              `json:"chatId"`
	Content        string              `json:"content"`
	Type           domain.MessageType  `json:"type"`
	Attachments    []domain.Attachment `json:"attachments" validate:"dive"`
}

type messageUpdateRequest struct {
	Content string `json:"content" validate:"required"`
}

type readResponse struct {
	RoomID string `json:"roomId"`
	Marked int64  `json:"marked"`
}

// @Summary      Send a message
// @Description  Exactly one of conversationId or chatId must be set
// @Tags         messages
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body messageCreateRequest true "Message"
// @Success      201  {object}  service.MessageView
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Router       /messages [post]
func handleCreateMessage(relay *ws.Relay, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}

		view, err := relay.SendMessage(r.Context(), CurrentUser(r).ID, service.SendInput{
			ConversationID: req.ConversationID,
			ChatID:         req.ChatID,
			Content:        req.Content,
			Type:           req.Type,
			Attachments:    req.Attachments,
		}, "")
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	}
}

// @Summary      List messages of a room
// @Description  Oldest first
// @Tags         messages
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Conversation or chat ID"
// @Success      200  {array}  service.MessageView
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /messages/{id} [get]
func handleListMessages(convSvc *service.ConversationService, msgSvc *service.MessageService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := convSvc.ResolveRoom(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		views, err := msgSvc.List(r.Context(), room, CurrentUser(r).ID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// @Summary      Edit a message
// @Tags         messages
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id    path  string                true  "Message ID"
// @Param        input body  messageUpdateRequest  true  "New content"
// @Success      200  {object}  service.MessageView
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /messages/{id} [put]
func handleUpdateMessage(relay *ws.Relay, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}

		view, err := relay.EditMessage(r.Context(), CurrentUser(r).ID, chi.URLParam(r, "id"), req.Content)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// @Summary      Delete a message
// @Description  Sender or admin only
// @Tags         messages
// @Security     BearerAuth
// @Param        id   path  string  true  "Message ID"
// @Success      200  {object}  ws.MessageDeletedPayload
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /messages/{id} [delete]
func handleDeleteMessage(relay *ws.Relay, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		room, err := relay.DeleteMessage(r.Context(), CurrentUser(r), id)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, ws.MessageDeletedPayload{MessageID: id, RoomID: room.ID})
	}
}

// @Summary      Mark a room as read
// @Tags         messages
// @Security     BearerAuth
// @Param        id  path  string  true  "Conversation or chat ID"
// @Success      200  {object}  readResponse
// @Router       /messages/{id}/read [post]
func handleMarkRead(convSvc *service.ConversationService, relay *ws.Relay, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := convSvc.ResolveRoom(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		n, err := relay.MarkRead(r.Context(), CurrentUser(r).ID, room)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, readResponse{RoomID: room.ID, Marked: n})
	}
}
