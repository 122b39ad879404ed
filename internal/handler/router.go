package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/blogchat/internal/metrics"
	"github.com/blogchat/internal/middleware"
)

// Deps are the handlers the agent router mounts. Push and WS may be nil.
type Deps struct {
	Chat           *ChatHandler
	Messages       *MessageHandler
	Config         *ConfigHandler
	Push           *PushHandler
	WS             *WSHandler
	AllowedOrigins string
	AgentSecret    string
	WebDist        string
}

// NewRouter builds the local agent API.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.LocalOnly(d.AgentSecret))
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(metrics.HTTPMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(d.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Agent-Secret"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(10, 20))
		r.Use(chimw.Timeout(60 * time.Second))

		r.Get("/state", d.Chat.State)
		r.Get("/conversations", d.Chat.Conversations)
		r.Post("/conversations/close", d.Chat.Close)
		r.Post("/conversations/{id}/select", d.Chat.Select)
		r.Delete("/conversations/{id}", d.Chat.MoveToTrash)
		r.Post("/conversations/{id}/restore", d.Chat.Restore)
		r.Put("/conversations/{id}/theme", d.Chat.UpdateTheme)
		r.Get("/conversations/{id}/export", d.Chat.Export)
		r.Get("/trash", d.Chat.Trash)
		r.Delete("/trash/{id}", d.Chat.Purge)
		r.Get("/unread", d.Chat.Unread)

		r.Get("/timeline", d.Messages.Timeline)
		r.Post("/messages", d.Messages.Send)
		r.Post("/compose", d.Messages.Compose)
		r.Delete("/messages/{id}", d.Messages.Delete)
		r.Post("/messages/{id}/reactions", d.Messages.React)

		if d.Config != nil {
			r.Get("/config/chat", d.Config.GetChatConfig)
			r.Get("/config/push", d.Config.GetPushConfig)
		}
		if d.Push != nil {
			r.Post("/push/subscribe", d.Push.Subscribe)
			r.Delete("/push/subscribe", d.Push.Unsubscribe)
		}
	})
	if d.WS != nil {
		r.Get("/ws", d.WS.ServeWS)
	}

	if d.WebDist != "" {
		if info, err := os.Stat(d.WebDist); err == nil && info.IsDir() {
			r.Get("/*", spaHandler(d.WebDist))
		}
	}
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// spaHandler serves the built browser shell and falls back to index.html.
func spaHandler(dir string) http.HandlerFunc {
	fs := http.Dir(dir)
	fileServer := http.FileServer(fs)
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
		if path == "" {
			path = "index.html"
		}
		if f, err := fs.Open(path); err != nil {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
		} else {
			f.Close()
			fileServer.ServeHTTP(w, r)
		}
	}
}
