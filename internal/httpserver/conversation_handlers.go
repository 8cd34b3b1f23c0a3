package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatbackend/internal/domain"
	"chatbackend/internal/service"
	"chatbackend/internal/ws"
)

type conversationCreateRequest struct {
	ReceiverID string `json:"receiverId" validate:"required"`
}

type groupCreateRequest struct {
	ChatName string   `json:"chatName" validate:"required,max=100"`
	Members  []string `json:"members" validate:"required,min=1,dive,required"`
}

type addMemberRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type statusResponse struct {
	Message string `json:"message"`
}

// @Summary      Open a private conversation
// @Description  Returns the conversation with the receiver, creating it on first use
// @Tags         conversations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body conversationCreateRequest true "Receiver"
// @Success      200  {object}  domain.Conversation
// @Success      201  {object}  domain.Conversation
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /conversations [post]
func handleCreateConversation(convSvc *service.ConversationService, relay *ws.Relay, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conversationCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		currentUser := CurrentUser(r)

		conv, created, err := convSvc.GetOrCreatePrivate(r.Context(), currentUser.ID, req.ReceiverID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if !created {
			writeJSON(w, http.StatusOK, conv)
			return
		}
		relay.ConversationCreated(conv, currentUser.ID)
		writeJSON(w, http.StatusCreated, conv)
	}
}

// @Summary      List chats
// @Description  Private conversations and groups of the caller, most recently updated first
// @Tags         conversations
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}  service.RoomSummary
// @Router       /conversations [get]
func handleListConversations(convSvc *service.ConversationService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := convSvc.ListSummaries(r.Context(), CurrentUser(r).ID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

// @Summary      Delete a private conversation
// @Tags         conversations
// @Security     BearerAuth
// @Param        id   path  string  true  "Conversation ID"
// @Success      200  {object}  statusResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /conversations/{id} [delete]
func handleDeleteConversation(convSvc *service.ConversationService, relay *ws.Relay, log *slog.Logger) http.HandlerFunc {
	return deleteRoom(convSvc, relay, log, domain.PrivateRoom, "conversation deleted")
}

// @Summary      Create a group chat
// @Tags         chats
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body groupCreateRequest true "Group"
// @Success      201  {object}  domain.GroupChat
// @Failure      400  {object}  errorResponse
// @Router       /chats [post]
func handleCreateGroup(convSvc *service.ConversationService, relay *ws.Relay, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req groupCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}

		group, err := convSvc.CreateGroup(r.Context(), CurrentUser(r).ID, service.GroupCreateInput{
			Name:      req.ChatName,
			MemberIDs: req.Members,
		})
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		relay.GroupCreated(group)
		writeJSON(w, http.StatusCreated, group)
	}
}

// @Summary      List group chats
// @Tags         chats
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}  domain.GroupChat
// @Router       /chats [get]
func handleListGroups(convSvc *service.ConversationService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := convSvc.ListGroups(r.Context(), CurrentUser(r).ID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, groups)
	}
}

// @Summary      Add a member to a group
// @Tags         chats
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id    path  string            true  "Chat ID"
// @Param        input body  addMemberRequest  true  "Member"
// @Success      200  {object}  domain.GroupChat
// @Failure      403  {object}  errorResponse
// @Failure      409  {object}  errorResponse
// @Router       /chats/{id}/add-member [put]
func handleAddMember(convSvc *service.ConversationService, relay *ws.Relay, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addMemberRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}

		group, err := convSvc.AddMember(r.Context(), chi.URLParam(r, "id"), CurrentUser(r).ID, req.UserID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		relay.MemberAdded(group, req.UserID)
		writeJSON(w, http.StatusOK, group)
	}
}

// @Summary      Delete a group chat
// @Tags         chats
// @Security     BearerAuth
// @Param        id   path  string  true  "Chat ID"
// @Success      200  {object}  statusResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /chats/{id} [delete]
func handleDeleteGroup(convSvc *service.ConversationService, relay *ws.Relay, log *slog.Logger) http.HandlerFunc {
	return deleteRoom(convSvc, relay, log, domain.GroupRoom, "chat deleted")
}

func deleteRoom(convSvc *service.ConversationService, relay *ws.Relay, log *slog.Logger, ref func(string) domain.RoomRef, msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := ref(chi.URLParam(r, "id"))
		members, err := convSvc.DeleteRoom(r.Context(), room, CurrentUser(r).ID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		relay.RoomDeleted(room, members)
		writeJSON(w, http.StatusOK, statusResponse{Message: msg})
	}
}
