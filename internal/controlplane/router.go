package controlplane

import (
	"context"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"canvashub/internal/archive"
	"canvashub/internal/auth"
	"canvashub/internal/bus"
	"canvashub/internal/identity"
	"canvashub/internal/notify"
	"canvashub/internal/store"
)

// Options configures the control plane router.
type Options struct {
	CORSAllowedOrigins string
	MaintenanceMessage string
	IsMaintenance      func() bool
}

// NewRouter builds the control plane's chi.Mux, wiring every handler group
// behind the middleware stack described in the expanded design: request
// IDs, real-IP resolution, panic recovery and a 30s request timeout (chi's
// own), CORS, and the maintenance gate,
// grounded on the router assembly shape used for the HTTP API elsewhere in
// the pack.
func NewRouter(ctx context.Context, s *store.Store, tokens *auth.Service, busReg *bus.Registry, archiver *archive.Archiver, notifier *notify.Notifier, opts Options, log *zap.SugaredLogger) *chi.Mux {
	extractor := identity.New(tokens)
	authHandlers := NewAuthHandlers(s, tokens, log)
	canvasHandlers := NewCanvasHandlers(ctx, s, busReg, archiver, notifier, log)
	statusHandlers := NewStatusHandlers(opts.IsMaintenance, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID, chimiddleware.RealIP, chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	allowedOrigins := []string{"*"}
	if opts.CORSAllowedOrigins != "" {
		allowedOrigins = strings.Split(opts.CORSAllowedOrigins, ",")
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin", "X-Requested-With"},
	}).Handler)

	r.Use(Maintenance(opts.IsMaintenance, opts.MaintenanceMessage, log))

	r.Get("/status", statusHandlers.GetStatus)
	r.Get("/api/status", statusHandlers.GetStatus)

	r.Post("/auth/register", authHandlers.Register)
	r.Post("/auth/login", authHandlers.Login)
	r.Post("/auth/refresh", authHandlers.Refresh)

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireAuth(extractor, log))

		r.Get("/me", authHandlers.Me)
		r.Post("/canvases", canvasHandlers.CreateCanvas)
		r.Get("/canvases/{canvasID}", canvasHandlers.GetCanvas)
		r.Put("/canvases/{canvasID}/rights", canvasHandlers.SetRight)
		r.Put("/canvases/{canvasID}/moderated", canvasHandlers.SetModerated)
		r.Post("/canvases/{canvasID}/archive", canvasHandlers.ArchiveNow)
	})

	return r
}
