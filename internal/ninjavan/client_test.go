package ninjavan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryTokenStore struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	saves     int
}

func (m *memoryTokenStore) LoadNinjaVanToken(context.Context) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.expiresAt, nil
}

func (m *memoryTokenStore) SaveNinjaVanToken(_ context.Context, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.expiresAt = token, expiresAt
	m.saves++
	return nil
}

type fakeNinjaVan struct {
	oauthCalls  atomic.Int32
	issued      atomic.Int32
	rejectFirst atomic.Bool
	hold        chan struct{}
	orders      []OrderRequest
	mu          sync.Mutex
}

func (f *fakeNinjaVan) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/my/2.0/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		f.oauthCalls.Add(1)
		if f.hold != nil {
			<-f.hold
		}
		n := f.issued.Add(1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "client_credentials", body["grant_type"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-" + string(rune('0'+n)),
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/my/4.2/orders", func(w http.ResponseWriter, r *http.Request) {
		if f.rejectFirst.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var order OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))
		f.mu.Lock()
		f.orders = append(f.orders, order)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{
			"tracking_number":           "NV" + order.RequestedTrackingNumber,
			"requested_tracking_number": order.RequestedTrackingNumber,
		})
	})
	mux.HandleFunc("/my/2.2/orders/DMS1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/my/2.2/orders/DMS2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"ORDER_ALREADY_CANCELLED","message":"Order is already cancelled"}}`))
	})
	mux.HandleFunc("/my/2.2/orders/DMS3", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"ORDER_NOT_FOUND"}}`))
	})
	mux.HandleFunc("/my/2.0/reports/waybill", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "DMS1", r.URL.Query().Get("tid"))
		require.Equal(t, "0", r.URL.Query().Get("h"))
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 waybill"))
	})
	return mux
}

func newTestClient(t *testing.T, store TokenStore) (*Client, *fakeNinjaVan) {
	fake := &fakeNinjaVan{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", CountryCode: "MY"}, store, nil), fake
}

func TestCreateOrderCachesToken(t *testing.T) {
	store := &memoryTokenStore{}
	client, fake := newTestClient(t, store)

	for i := 0; i < 3; i++ {
		out, err := client.CreateOrder(context.Background(), OrderRequest{RequestedTrackingNumber: "DMS1"})
		require.NoError(t, err)
		require.Equal(t, "NVDMS1", out.TrackingNumber)
	}
	require.Equal(t, int32(1), fake.oauthCalls.Load())
	require.Equal(t, 1, store.saves)
	require.Equal(t, "Parcel", fake.orders[0].ServiceType)
	require.Equal(t, "Standard", fake.orders[0].ServiceLevel)
}

func TestTokenLoadedFromStore(t *testing.T) {
	store := &memoryTokenStore{token: "stored", expiresAt: time.Now().Add(time.Hour)}
	client, fake := newTestClient(t, store)

	token, err := client.Tokens().Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "stored", token)
	require.Equal(t, int32(0), fake.oauthCalls.Load())
}

func TestExpiringStoredTokenIsRefreshed(t *testing.T) {
	store := &memoryTokenStore{token: "stale", expiresAt: time.Now().Add(30 * time.Second)}
	client, fake := newTestClient(t, store)

	token, err := client.Tokens().Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "token-1", token)
	require.Equal(t, int32(1), fake.oauthCalls.Load())
	require.Equal(t, "token-1", store.token)
}

func TestUnauthorizedRetriesOnceWithFreshToken(t *testing.T) {
	store := &memoryTokenStore{token: "revoked", expiresAt: time.Now().Add(time.Hour)}
	client, fake := newTestClient(t, store)
	fake.rejectFirst.Store(true)

	out, err := client.CreateOrder(context.Background(), OrderRequest{RequestedTrackingNumber: "DMS9"})
	require.NoError(t, err)
	require.Equal(t, "NVDMS9", out.TrackingNumber)
	require.Equal(t, int32(1), fake.oauthCalls.Load())
	require.Equal(t, "token-1", store.token)
}

func TestConcurrentTokenRefreshIsShared(t *testing.T) {
	client, fake := newTestClient(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Tokens().Token(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, fake.oauthCalls.Load(), int32(2))
}

func TestTokenRefreshSurvivesCancelledCaller(t *testing.T) {
	fake := &fakeNinjaVan{hold: make(chan struct{})}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	client := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", CountryCode: "MY"}, nil, nil)
	release := sync.OnceFunc(func() { close(fake.hold) })
	t.Cleanup(release)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.Tokens().Token(firstCtx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return fake.oauthCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	type result struct {
		token string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		token, err := client.Tokens().Token(context.Background())
		second <- result{token, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	release()

	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, "token-1", got.token)
	require.Equal(t, int32(1), fake.oauthCalls.Load())
}

func TestCancelOrder(t *testing.T) {
	client, _ := newTestClient(t, nil)

	res, err := client.CancelOrder(context.Background(), "DMS1")
	require.NoError(t, err)
	require.False(t, res.AlreadyCancelled)

	res, err = client.CancelOrder(context.Background(), "DMS2")
	require.NoError(t, err)
	require.True(t, res.AlreadyCancelled)

	_, err = client.CancelOrder(context.Background(), "DMS3")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestWaybill(t *testing.T) {
	client, _ := newTestClient(t, nil)

	pdf, err := client.Waybill(context.Background(), "DMS1")
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4 waybill", string(pdf))
}
