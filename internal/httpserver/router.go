package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "chatbackend/docs"
	"chatbackend/internal/config"
	"chatbackend/internal/presence"
	"chatbackend/internal/service"
	"chatbackend/internal/ws"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Config   *config.Config
	Log      *slog.Logger
	Auth     *service.AuthService
	Users    *service.UserService
	Rooms    *service.ConversationService
	Messages *service.MessageService
	Relay    *ws.Relay
	Presence presence.Registry
	Realtime http.Handler
}

// requestLogger writes one structured line per request.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	cfg, log := d.Config, d.Log
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": cfg.AppName, "docs": "/docs/index.html"})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// Realtime connections are long-lived and stay outside the request timeout.
	r.Get("/ws", d.Realtime.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(d.Auth, log))
			r.Post("/login", handleLogin(d.Auth, log))
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Auth, log))

			r.Get("/auth/profile", handleProfile(d.Auth, log))
			r.Put("/auth/me", handleUpdateProfile(d.Auth, log))
			r.Delete("/auth/me", handleDeleteAccount(d.Auth, d.Relay, log))
			r.Put("/auth/password", handleChangePassword(d.Auth, log))
			r.Post("/auth/logout-all", handleLogoutAll(d.Auth, log))

			r.Get("/search/users", handleSearchUsers(d.Users, log))

			r.Route("/online-users", func(r chi.Router) {
				r.Get("/", handleListOnlineUsers(d.Presence))
				r.Get("/{id}", handleOnlineStatus(d.Presence))
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", handleCreateConversation(d.Rooms, d.Relay, log))
				r.Get("/", handleListConversations(d.Rooms, log))
				r.Delete("/{id}", handleDeleteConversation(d.Rooms, d.Relay, log))
			})

			r.Route("/chats", func(r chi.Router) {
				r.Post("/", handleCreateGroup(d.Rooms, d.Relay, log))
				r.Get("/", handleListGroups(d.Rooms, log))
				r.Put("/{id}/add-member", handleAddMember(d.Rooms, d.Relay, log))
				r.Delete("/{id}", handleDeleteGroup(d.Rooms, d.Relay, log))
			})

			r.Route("/messages", func(r chi.Router) {
				r.Post("/", handleCreateMessage(d.Relay, log))
				r.Get("/{id}", handleListMessages(d.Rooms, d.Messages, log))
				r.Post("/{id}/read", handleMarkRead(d.Rooms, d.Relay, log))
				r.Put("/{id}", handleUpdateMessage(d.Relay, log))
				r.Delete("/{id}", handleDeleteMessage(d.Relay, log))
			})

			r.Mount("/uploads", UploadRoutes(cfg.UploadDir, cfg.MaxUploadMB<<20, log))
		})
	})

	return r
}
