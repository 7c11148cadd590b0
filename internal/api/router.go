package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/owasp-lab-be/internal/api/handlers"
	"github.com/isdelr/owasp-lab-be/internal/api/respond"
	"github.com/isdelr/owasp-lab-be/internal/auth"
	"github.com/isdelr/owasp-lab-be/internal/config"
	"github.com/isdelr/owasp-lab-be/internal/csrf"
	"github.com/isdelr/owasp-lab-be/internal/gate"
	"github.com/isdelr/owasp-lab-be/internal/models"
	"github.com/isdelr/owasp-lab-be/internal/ratelimit"
	"github.com/isdelr/owasp-lab-be/internal/services"
	"github.com/isdelr/owasp-lab-be/internal/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const auditFeedPath = "/api/admin/audit/ws"

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Config       *config.Config
	Users        services.UserServiceProvider
	Sessions     services.SessionServiceProvider
	Audit        services.AuditServiceProvider
	Hasher       *auth.PasswordHasher
	Signer       auth.Signer
	Verifier     *auth.Verifier
	CSRF         *csrf.Manager
	Hub          *websocket.Hub
	LoginLimiter *ratelimit.Limiter
}

// NewRouter creates and configures a new Chi router.
func NewRouter(d Deps) *chi.Mux {
	cfg := d.Config
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", gate.CSRFHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(AuditTrail(d.Audit, "/health", "/metrics", auditFeedPath))

	g := gate.New(d.Verifier, d.CSRF)
	strict := g.Protect(gate.Route{})
	admin := g.Protect(gate.Route{RequireRole: models.RoleAdmin})

	secureIssuer := auth.NewIssuer(d.Users, d.Hasher, d.Signer)
	secureCookies := cfg.IsProduction()

	// With the vulnerable routes mounted the credential cookie must reach a
	// cross-site form post, so it is issued Lax.
	tokenSameSite := http.SameSiteStrictMode
	if cfg.EnableVulnerableEndpoints {
		tokenSameSite = http.SameSiteLaxMode
	}

	userHandler := handlers.NewUserHandler(d.Users, secureIssuer, d.CSRF, d.Audit, cfg.JWTTTL, secureCookies, tokenSameSite)
	secureAuth := handlers.NewAuthDemoHandler(handlers.SecureDemo, d.Users, d.Sessions, d.Audit, secureIssuer, cfg.JWTTTL, secureCookies)
	secureCSRF := handlers.NewCSRFHandler(d.CSRF, d.Users, true, cfg.JWTTTL, secureCookies)
	adminHandler := handlers.NewAdminHandler(d.Users, d.Audit)
	wsHandler := handlers.NewWebSocketHandler(d.Hub, cfg.CORSOrigins)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respond.OK(w, http.StatusOK, respond.Envelope{Message: "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.With(d.LoginLimiter.Middleware).Post("/login", userHandler.Login)
		r.Post("/register", userHandler.Register)
		r.Post("/logout", userHandler.Logout)
		r.With(strict).Get("/me", userHandler.GetMe)
	})

	r.Route("/api/secure", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", secureAuth.Register)
			r.With(d.LoginLimiter.Middleware).Post("/login", secureAuth.Login)
			r.With(d.LoginLimiter.Middleware).Post("/login-secure-session", secureAuth.LoginSession)
			r.With(d.LoginLimiter.Middleware).Post("/reset-password", secureAuth.ResetPassword)
			r.With(strict).Get("/profile", secureAuth.Profile)
		})
		r.Route("/csrf", func(r chi.Router) {
			r.Use(strict)
			r.Get("/token", secureCSRF.Token)
			r.Post("/transfer-money", secureCSRF.TransferMoney)
			r.Post("/change-email", secureCSRF.ChangeEmail)
			r.Post("/delete-account", secureCSRF.DeleteAccount)
		})
	})

	if cfg.EnableVulnerableEndpoints {
		vulnerableIssuer := auth.NewIssuer(d.Users, d.Hasher, auth.NewUnsignedSigner(cfg.JWTTTL), auth.WithVerboseFailures())
		vulnerableAuth := handlers.NewAuthDemoHandler(handlers.VulnerableDemo, d.Users, d.Sessions, d.Audit, vulnerableIssuer, cfg.JWTTTL, false)
		vulnerableCSRF := handlers.NewCSRFHandler(d.CSRF, d.Users, false, cfg.JWTTTL, false)
		permissive := g.Protect(gate.Route{Verification: auth.VerifyPermissive})

		r.Route("/api/vulnerable", func(r chi.Router) {
			r.Route("/auth", func(r chi.Router) {
				r.Post("/register", vulnerableAuth.Register)
				r.Post("/login-none-alg", vulnerableAuth.Login)
				r.Post("/login-session-fixation", vulnerableAuth.LoginSession)
				r.Post("/reset-password", vulnerableAuth.ResetPassword)
				r.With(permissive).Get("/profile", vulnerableAuth.Profile)
			})
			r.Route("/csrf", func(r chi.Router) {
				r.Use(g.Protect(gate.Route{CSRF: gate.CSRFBypassed}))
				r.Post("/transfer-money", vulnerableCSRF.TransferMoney)
				r.Post("/change-email", vulnerableCSRF.ChangeEmail)
				r.Post("/delete-account", vulnerableCSRF.DeleteAccount)
			})
		})
	}

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(admin)
		r.Get("/users", adminHandler.ListUsers)
		r.Get("/audit", adminHandler.RecentAudit)
		r.Get("/audit/ws", wsHandler.Serve)
		r.Get("/system", adminHandler.System)
	})

	return r
}
