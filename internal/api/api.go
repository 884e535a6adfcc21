package api

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/oauth2"

	"github.com/susu3304/splitbot/internal/config"
	"github.com/susu3304/splitbot/internal/ledger"
)

// API is the read-only web surface over the ledger. Authentication is
// Discord OAuth2 exchanged for a short-lived JWT; a chat's data is only
// visible to its registered participants.
type API struct {
	router      *mux.Router
	ledger      *ledger.Service
	config      *config.Config
	oauthConfig *oauth2.Config
	jwtSecret   []byte
}

func New(cfg *config.Config, svc *ledger.Service) *API {
	api := &API{
		router:    mux.NewRouter(),
		ledger:    svc,
		config:    cfg,
		jwtSecret: []byte(cfg.JWTSecret),
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURI,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/api/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
		},
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	// Auth endpoints
	a.router.HandleFunc("/api/auth/login", a.handleLogin).Methods("GET")
	a.router.HandleFunc("/api/auth/callback", a.handleCallback).Methods("GET")
	a.router.HandleFunc("/api/auth/logout", a.handleLogout).Methods("POST")

	// Protected endpoints
	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("/chats/{chat_id}/balances", a.handleBalances).Methods("GET")
	protected.HandleFunc("/chats/{chat_id}/settlements", a.handleSettlements).Methods("GET")
	protected.HandleFunc("/chats/{chat_id}/expenses", a.handleExpenses).Methods("GET")
	protected.HandleFunc("/chats/{chat_id}/stats", a.handleStats).Methods("GET")
	protected.HandleFunc("/chats/{chat_id}/export", a.handleExport).Methods("GET")
}

func (a *API) Start() error {
	// Setup CORS - allow all origins for development, restrict in production
	// Note: When AllowedOrigins is "*", AllowCredentials must be false for security
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}

	handler := cors.New(corsOptions).Handler(a.router)

	log.Printf("API server listening on http://%s", a.config.WebBind)
	return http.ListenAndServe(a.config.WebBind, handler)
}
