package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/app"
	"github.com/cloakshare/relay/internal/core"
	"github.com/cloakshare/relay/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Config struct {
	ReadLimit    int64
	SendBuffer   int
	MaxFileSize  int64
	CreateLimit  int
	CreateWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 15 << 20 // base64 overhead on the 10MB file cap
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 10 << 20
	}
	if c.CreateLimit <= 0 {
		c.CreateLimit = 10
	}
	if c.CreateWindow <= 0 {
		c.CreateWindow = time.Minute
	}
	return c
}

// Controller owns the websocket boundary: upgrade, pumps, payload
// decoding and validation. Everything it accepts is handed to the relay;
// everything the relay rejects is translated back to an error frame.
type Controller struct {
	Relay *app.Relay

	cfg     Config
	creates *CreateRateLimiter
}

func NewController(relay *app.Relay, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		Relay:   relay,
		cfg:     cfg,
		creates: NewCreateRateLimiter(cfg.CreateLimit, cfg.CreateWindow),
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	if f == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection's pumps. The
// connection id is fresh per socket; the cookie client token only keys
// the create rate limiter.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	connID := domain.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Relay.Connect(connID, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, connID, token, conn)
}
