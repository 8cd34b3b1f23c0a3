package httpserver

import (
	"log/slog"
	"net/http"

	"chatbackend/internal/service"
	"chatbackend/internal/ws"
)

type registerRequest struct {
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type updateProfileRequest struct {
	FirstName       string `json:"firstName" validate:"omitempty,max=100"`
	LastName        string `json:"lastName" validate:"omitempty,max=100"`
	Email           string `json:"email" validate:"omitempty,email"`
	CurrentPassword string `json:"currentPassword"`
}

type deleteAccountResponse struct {
	Message       string `json:"message"`
	DeletedUserID string `json:"deletedUserId"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72"`
}

// @Summary      Register a new user
// @Description  Register a new user and return an access token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        input body registerRequest true "Register input"
// @Success      201  {object}  service.TokenResponse
// @Failure      400  {object}  errorResponse
// @Failure      409  {object}  errorResponse
// @Router       /auth/register [post]
func handleRegister(authSvc *service.AuthService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}

		resp, err := authSvc.Register(r.Context(), service.RegisterInput{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Password:  req.Password,
		})
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// @Summary      Login
// @Description  Login with email and password
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        input body loginRequest true "Login input"
// @Success      200  {object}  service.TokenResponse
// @Failure      400  {object}  errorResponse
// @Failure      401  {object}  errorResponse
// @Router       /auth/login [post]
func handleLogin(authSvc *service.AuthService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}

		resp, err := authSvc.Login(r.Context(), service.LoginInput{
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// @Summary      Get Current User
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  domain.User
// @Failure      401  {object}  errorResponse
// @Router       /auth/profile [get]
func handleProfile(authSvc *service.AuthService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := authSvc.Profile(r.Context(), CurrentUser(r).ID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// @Summary      Change password
// @Description  Verifies the current password, stores the new one and revokes every token issued before
// @Tags         auth
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body changePasswordRequest true "Passwords"
// @Success      200  {object}  service.TokenResponse
// @Failure      403  {object}  errorResponse
// @Router       /auth/password [put]
func handleChangePassword(authSvc *service.AuthService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changePasswordRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}

		resp, err := authSvc.ChangePassword(r.Context(), CurrentUser(r).ID, service.ChangePasswordInput{
			CurrentPassword: req.CurrentPassword,
			NewPassword:     req.NewPassword,
		})
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// @Summary      Logout everywhere
// @Description  Revokes every token issued to the caller
// @Tags         auth
// @Security     BearerAuth
// @Success      204
// @Failure      401  {object}  errorResponse
// @Router       /auth/logout-all [post]
func handleLogoutAll(authSvc *service.AuthService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := authSvc.LogoutAll(r.Context(), CurrentUser(r).ID); err != nil {
			writeError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// @Summary      Update own profile
// @Description  Edits names and email. Changing the email needs currentPassword and revokes every earlier token; a fresh one is returned.
// @Tags         auth
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body updateProfileRequest true "Profile fields"
// @Success      200  {object}  service.ProfileResponse
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Failure      409  {object}  errorResponse
// @Router       /auth/me [put]
func handleUpdateProfile(authSvc *service.AuthService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateProfileRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}

		resp, err := authSvc.UpdateProfile(r.Context(), CurrentUser(r).ID, service.UpdateProfileInput{
			FirstName:       req.FirstName,
			LastName:        req.LastName,
			Email:           req.Email,
			CurrentPassword: req.CurrentPassword,
		})
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// @Summary      Delete own account
// @Description  Removes the caller, their private conversations and the messages they sent, and closes their realtime sessions
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  deleteAccountResponse
// @Failure      401  {object}  errorResponse
// @Router       /auth/me [delete]
func handleDeleteAccount(authSvc *service.AuthService, relay *ws.Relay, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := CurrentUser(r).ID
		if err := authSvc.DeleteAccount(r.Context(), userID); err != nil {
			writeError(w, r, log, err)
			return
		}
		relay.AccountDeleted(userID)
		writeJSON(w, http.StatusOK, deleteAccountResponse{Message: "account deleted", DeletedUserID: userID})
	}
}
