package app

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/auth"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/server"
)

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Pool   *pgxpool.Pool
	JWTMgr *auth.JWTManager
	Hub    *server.Hub
	Logger *slog.Logger
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	repo := server.NewRepo(deps.Pool)
	api := server.NewHandler(repo, deps.Hub, deps.JWTMgr, deps.Logger)

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(server.Recovery(deps.Logger))
	r.Use(server.RequestID)
	r.Use(server.RequestLogger(deps.Logger))
	r.Use(server.CORS)
	r.Use(server.JSONContentType)

	// Health (no auth)
	r.Get("/health", server.Health(deps.Pool))

	api.Routes(r)

	return r
}
