package notify

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiAndChannel(t *testing.T) {
	ch := NewChannel(1)
	var got []Notification
	m := Multi{Func(func(_ context.Context, n Notification) { got = append(got, n) }), nil, ch}

	m.Notify(context.Background(), Notification{Title: "a"})
	m.Notify(context.Background(), Notification{Title: "b"})

	assert.Len(t, got, 2)
	first := <-ch.C()
	assert.Equal(t, "a", first.Title)
	select {
	case n := <-ch.C():
		t.Fatalf("expected drop on full buffer, got %q", n.Title)
	default:
	}
}

func TestEnsureVAPIDKeysPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "vapid.json")
	k1, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	require.NotEmpty(t, k1.PublicKey)
	require.NotEmpty(t, k1.PrivateKey)

	k2, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func newTestPush(t *testing.T) (*WebPush, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subs.json")
	w, err := NewWebPush(&VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, "chatd", path)
	require.NoError(t, err)
	return w, path
}

func sub(endpoint string) PushSubscription {
	var s PushSubscription
	s.Endpoint = endpoint
	s.Keys.P256dh = "p"
	s.Keys.Auth = "a"
	return s
}

func TestWebPush_SubscriptionsSurviveReload(t *testing.T) {
	w, path := newTestPush(t)
	require.NoError(t, w.Subscribe(sub("https://push/1")))
	require.NoError(t, w.Subscribe(sub("https://push/2")))
	require.NoError(t, w.Subscribe(sub("https://push/1")))
	assert.Equal(t, 2, w.Subscriptions())
	assert.Error(t, w.Subscribe(PushSubscription{}))

	reloaded, err := NewWebPush(&VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, "chatd", path)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Subscriptions())
	assert.Equal(t, "pub", reloaded.PublicKey())
}

func TestWebPush_DeliverDropsGoneSubscriptions(t *testing.T) {
	w, _ := newTestPush(t)
	require.NoError(t, w.Subscribe(sub("https://push/live")))
	require.NoError(t, w.Subscribe(sub("https://push/gone")))

	var sent []string
	w.send = func(_ context.Context, payload []byte, s *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		sent = append(sent, s.Endpoint)
		assert.Equal(t, "chatd", opts.Subscriber)
		assert.Contains(t, string(payload), "restore")
		status := http.StatusCreated
		if strings.HasSuffix(s.Endpoint, "gone") {
			status = http.StatusGone
		}
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}, nil
	}

	payload := []byte(`{"title":"alice","data":{"action":"restore"}}`)
	w.deliver(context.Background(), payload, []PushSubscription{sub("https://push/live"), sub("https://push/gone")})

	assert.Equal(t, []string{"https://push/live", "https://push/gone"}, sent)
	assert.Equal(t, 1, w.Subscriptions())
}
