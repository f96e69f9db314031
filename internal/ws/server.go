package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"distribution-order-services/internal/fulfillment"
	"distribution-order-services/internal/store"
	"distribution-order-services/internal/utils"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// OrderReader is what the payment socket needs from the store.
type OrderReader interface {
	GetPendingOrderByNumber(ctx context.Context, orderNumber string) (store.PendingOrder, error)
}

type Config struct {
	StatusTokenSecret string
	HeartbeatInterval time.Duration
}

// Server pushes pending order changes to payment return pages. Changes arrive
// through LISTEN on the pending order channel, or through Notify.
type Server struct {
	db     *pgxpool.Pool
	orders OrderReader
	logger *zap.Logger
	cfg    Config

	started sync.Once
	mu      sync.RWMutex
	subs    map[string]map[*wsClient]struct{}
}

func New(db *pgxpool.Pool, orders OrderReader, logger *zap.Logger, cfg Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Server{
		db:     db,
		orders: orders,
		logger: logger,
		cfg:    cfg,
		subs:   make(map[string]map[*wsClient]struct{}),
	}
}

type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) writeJSON(value any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(value)
}

func (c *wsClient) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Start runs the LISTEN loop until ctx ends. Without a pool only Notify
// delivers updates.
func (s *Server) Start(ctx context.Context) {
	if s.db == nil {
		return
	}
	s.started.Do(func() {
		go s.listenLoop(ctx)
	})
}

func (s *Server) subscribe(orderNumber string, client *wsClient) (unsubscribe func()) {
	s.mu.Lock()
	if s.subs[orderNumber] == nil {
		s.subs[orderNumber] = make(map[*wsClient]struct{})
	}
	s.subs[orderNumber][client] = struct{}{}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		clients := s.subs[orderNumber]
		delete(clients, client)
		if len(clients) == 0 {
			delete(s.subs, orderNumber)
		}
		s.mu.Unlock()
	}
}

func (s *Server) subscribers(orderNumber string) []*wsClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clients := make([]*wsClient, 0, len(s.subs[orderNumber]))
	for c := range s.subs[orderNumber] {
		clients = append(clients, c)
	}
	return clients
}

// Notify reloads one order and pushes it to every socket watching it.
func (s *Server) Notify(ctx context.Context, orderNumber string) {
	orderNumber = strings.TrimSpace(orderNumber)
	clients := s.subscribers(orderNumber)
	if orderNumber == "" || len(clients) == 0 {
		return
	}

	order, err := s.orders.GetPendingOrderByNumber(ctx, orderNumber)
	if err != nil {
		s.logger.Warn("payment ws reload failed", zap.String("order_number", orderNumber), zap.Error(err))
		return
	}
	message := stateMessage(order)
	for _, c := range clients {
		if err := c.writeJSON(message); err != nil {
			_ = c.conn.Close()
		}
	}
}

func stateMessage(order store.PendingOrder) map[string]any {
	return map[string]any{
		"type": "payment.state",
		"data": fulfillment.StatusOf(order),
	}
}

func (s *Server) listenLoop(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := s.db.Acquire(ctx)
		if err != nil {
			s.logger.Warn("pending order LISTEN acquire failed", zap.Error(err))
			sleep(ctx, backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		if _, err := conn.Exec(ctx, "listen "+fulfillment.PendingOrderChannel); err != nil {
			conn.Release()
			s.logger.Warn("pending order LISTEN failed", zap.Error(err))
			sleep(ctx, backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		backoff = time.Second
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				break
			}
			s.Notify(ctx, n.Payload)
		}

		conn.Release()
		sleep(ctx, backoff)
		backoff = min(backoff*2, 30*time.Second)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// PaymentWS serves GET /ws/public/payment?orderNumber=&token=. The token is
// checked before the upgrade so a bad link gets a plain 401.
func (s *Server) PaymentWS(w http.ResponseWriter, r *http.Request) {
	orderNumber := strings.TrimSpace(r.URL.Query().Get("orderNumber"))
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if orderNumber == "" || token == "" {
		http.Error(w, "orderNumber and token are required", http.StatusBadRequest)
		return
	}
	if !utils.VerifyPaymentStatusToken(s.cfg.StatusTokenSecret, token, orderNumber) {
		http.Error(w, "invalid status token", http.StatusUnauthorized)
		return
	}
	order, err := s.orders.GetPendingOrderByNumber(r.Context(), orderNumber)
	if err != nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	unsubscribe := s.subscribe(orderNumber, client)
	defer unsubscribe()

	// re-read once subscribed so a notify landing during the upgrade is not lost
	if current, err := s.orders.GetPendingOrderByNumber(r.Context(), orderNumber); err == nil {
		order = current
	}
	if err := client.writeJSON(stateMessage(order)); err != nil {
		return
	}

	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-clientClosed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := client.ping(); err != nil {
				return
			}
		}
	}
}
