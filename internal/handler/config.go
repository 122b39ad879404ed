package handler

import (
	"net/http"

	"github.com/blogchat/internal/config"
)

// ConfigHandler отдаёт публичные параметры агента для браузерной оболочки.
type ConfigHandler struct {
	cfg            *config.Config
	vapidPublicKey string
}

// NewConfigHandler создаёт обработчик конфигурации. Пустой vapidPublicKey — пуши выключены.
func NewConfigHandler(cfg *config.Config, vapidPublicKey string) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, vapidPublicKey: vapidPublicKey}
}

// GetChatConfig возвращает тайминги, которые нужны UI (typing, таймаут отправки).
func (h *ConfigHandler) GetChatConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"typing_idle_ms":       h.cfg.TypingIdle.Milliseconds(),
		"typing_throttle_ms":   h.cfg.TypingThrottle.Milliseconds(),
		"send_timeout_seconds": int(h.cfg.SendTimeout.Seconds()),
		"single_flight_send":   h.cfg.SingleFlight,
		"cache_ttl_minutes":    h.cfg.Cache.TTLMinutes,
	})
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.vapidPublicKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.vapidPublicKey,
	})
}
