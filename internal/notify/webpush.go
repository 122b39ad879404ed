package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/blogchat/internal/logger"
)

// PushSubscription — подписка из браузера.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// WebPush отправляет уведомления во все подписанные вкладки браузера.
// Подписки хранятся в JSON-файле, чтобы переживать перезапуск агента.
type WebPush struct {
	mu   sync.Mutex
	path string
	subs []PushSubscription
	opts webpush.Options
	send func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)
}

// NewWebPush загружает подписки из subscriptionFile (файла может не быть).
func NewWebPush(keys *VAPIDKeys, subscriber, subscriptionFile string) (*WebPush, error) {
	w := &WebPush{
		path: subscriptionFile,
		opts: webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		},
		send: webpush.SendNotificationWithContext,
	}
	subs, err := loadJSON[[]PushSubscription](subscriptionFile)
	switch {
	case err == nil:
		w.subs = *subs
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}
	return w, nil
}

func (w *WebPush) PublicKey() string {
	return w.opts.VAPIDPublicKey
}

// Subscribe сохраняет подписку; повторная подписка с тем же endpoint заменяет ключи.
func (w *WebPush) Subscribe(sub PushSubscription) error {
	if sub.Endpoint == "" {
		return errors.New("push: endpoint required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.without(sub.Endpoint), sub)
	return saveJSON(w.path, w.subs)
}

func (w *WebPush) Unsubscribe(endpoint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = w.without(endpoint)
	return saveJSON(w.path, w.subs)
}

func (w *WebPush) Subscriptions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

func (w *WebPush) without(endpoint string) []PushSubscription {
	kept := make([]PushSubscription, 0, len(w.subs))
	for _, s := range w.subs {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	return kept
}

// Notify шлёт пуш асинхронно: цикл событий не ждёт push-сервис.
func (w *WebPush) Notify(ctx context.Context, n Notification) {
	w.mu.Lock()
	subs := append([]PushSubscription(nil), w.subs...)
	w.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"title": n.Title,
		"body":  n.Body,
		"data": map[string]string{
			"kind":           string(n.Kind),
			"conversationId": n.ConversationID,
			"action":         n.Action,
		},
	})
	if err != nil {
		logger.Errorf("push marshal: %v", err)
		return
	}
	go w.deliver(context.WithoutCancel(ctx), payload, subs)
}

func (w *WebPush) deliver(ctx context.Context, payload []byte, subs []PushSubscription) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := w.send(ctx, payload, wpSub, &w.opts)
		if err != nil {
			logger.Errorf("push send %s: %v", sub.Endpoint[:min(50, len(sub.Endpoint))], err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			if err := w.Unsubscribe(sub.Endpoint); err != nil {
				logger.Errorf("push unsubscribe stale: %v", err)
			}
		}
	}
}
