package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatbackend/internal/presence"
	"chatbackend/internal/service"
)

type onlineStatusResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// @Summary      Search users
// @Description  Case-insensitive match on first name, last name or email. The caller is excluded.
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        query  query  string  true  "Search text"
// @Success      200  {array}  domain.User
// @Router       /search/users [get]
func handleSearchUsers(userSvc *service.UserService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := userSvc.Search(r.Context(), r.URL.Query().Get("query"), CurrentUser(r).ID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

// @Summary      Online users
// @Tags         presence
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}  string
// @Router       /online-users [get]
func handleListOnlineUsers(registry presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, registry.ListOnline())
	}
}

// @Summary      Online status of one user
// @Tags         presence
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "User ID"
// @Success      200  {object}  onlineStatusResponse
// @Router       /online-users/{id} [get]
func handleOnlineStatus(registry presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		writeJSON(w, http.StatusOK, onlineStatusResponse{UserID: id, Online: registry.IsOnline(id)})
	}
}
