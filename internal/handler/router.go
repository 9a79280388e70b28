package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"parley/internal/middleware"
)

// Routes groups the handlers mounted by NewRouter.
type Routes struct {
	Generation  *GenerationHandler
	Stream      *StreamHandler
	Models      *ModelsHandler
	Credentials *CredentialsHandler
	Tasks       *TaskHandler
	Health      http.HandlerFunc
}

// NewRouter builds the HTTP handler with its middleware chain.
// Order: CORS → tracing → Recovery → Identity → logging → routes
func NewRouter(routes Routes, corsOrigins string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if routes.Health != nil {
		mux.HandleFunc("GET /health", routes.Health)
	}

	// Generation routes
	mux.HandleFunc("POST /api/chats/{id}/generate", routes.Generation.Generate)
	mux.HandleFunc("GET /api/messages/{id}", routes.Generation.GetMessage)
	mux.HandleFunc("POST /api/messages/{id}/cancel", routes.Generation.CancelMessage)
	mux.HandleFunc("GET /api/messages/{id}/stream", routes.Stream.StreamMessage)

	// Catalog and credentials
	mux.HandleFunc("GET /api/models", routes.Models.GetCapabilities)
	mux.HandleFunc("PUT /api/users/me/api-keys/{family}", routes.Credentials.SetAPIKey)

	// Background tasks
	mux.HandleFunc("POST /api/tasks", routes.Tasks.EnqueueTask)
	mux.HandleFunc("GET /api/tasks/{id}", routes.Tasks.GetTask)

	var handler http.Handler = mux
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.Identity()(handler)
	handler = middleware.Recovery(logger)(handler)
	handler = otelhttp.NewHandler(handler, "parley.http")

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(corsOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", middleware.UserIDHeader, "Last-Event-ID"},
		AllowCredentials: true,
	})
	return corsHandler.Handler(handler)
}
