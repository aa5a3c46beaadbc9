package offers

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/TerraScore/TerraScore/internal/api"
)

// Channel connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultPollInterval   = 15 * time.Second
)

type offersAPI interface {
	Offers(ctx context.Context) ([]api.Offer, error)
}

type wsConn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// pushMessage is one frame from the offer socket. A frame either announces a
// specific offer by id or signals a job lifecycle change; either way the
// offer list itself comes from a REST refetch, never from the frame.
type pushMessage struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	OfferID string          `json:"offer_id,omitempty"`
	JobID   string          `json:"job_id,omitempty"`
}

// Channel keeps a live view of open job offers. It prefers a websocket push
// feed and degrades to REST polling whenever the socket is down, with a
// single pending reconnect attempt at a time.
type Channel struct {
	wsURL  string
	client offersAPI
	tokens api.TokenSource
	bus    *Bus
	log    *logrus.Logger

	// overridable in tests
	dialFn         func(ctx context.Context, url string) (wsConn, error)
	reconnectDelay time.Duration
	pollInterval   time.Duration

	mu        sync.Mutex
	ctx       context.Context
	state     string
	conn      wsConn
	offers    []api.Offer
	reconnect *time.Timer
	pollStop  chan struct{}
	closed    bool
}

func NewChannel(wsURL string, client offersAPI, tokens api.TokenSource, bus *Bus, log *logrus.Logger) *Channel {
	return &Channel{
		wsURL:  wsURL,
		client: client,
		tokens: tokens,
		bus:    bus,
		log:    log,
		dialFn: func(ctx context.Context, url string) (wsConn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
		reconnectDelay: defaultReconnectDelay,
		pollInterval:   defaultPollInterval,
		state:          StateDisconnected,
	}
}

// Start binds the channel to its lifetime context and makes the first
// connection attempt.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.Connect()
}

// State returns the current connection state.
func (c *Channel) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Offers returns the last fetched offer list.
func (c *Channel) Offers() []api.Offer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]api.Offer(nil), c.offers...)
}

// Connect dials the push socket. While disconnected the channel polls over
// REST, so a failed dial costs nothing but the retry delay.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.closed || c.state != StateDisconnected || c.ctx == nil {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	ctx := c.ctx
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.log.WithError(err).Warn("offer socket dial failed")
		c.mu.Lock()
		c.state = StateDisconnected
		c.startPollingLocked()
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.state = StateConnected
	c.conn = conn
	c.stopPollingLocked()
	c.cancelReconnectLocked()
	c.mu.Unlock()

	c.log.Info("offer socket connected")
	go c.readLoop(conn)
	c.refetch(ctx)
}

func (c *Channel) dial(ctx context.Context) (wsConn, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	u := c.wsURL
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.dialFn(dialCtx, u)
}

func (c *Channel) readLoop(conn wsConn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn)
			return
		}

		var msg pushMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Warn("bad offer frame")
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage fans typed events out to listeners before anything else, so
// a failed refetch never swallows the notification. The list refetch is an
// extra step for frames that imply the offer set moved.
func (c *Channel) handleMessage(msg pushMessage) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if msg.Type != "" {
		c.bus.Publish(Event{Type: msg.Type, Data: msg.Data})
		if msg.Type == EventJobAccepted || msg.Type == EventSurveySubmitted {
			c.refetch(ctx)
		}
		return
	}

	// a bare offer announcement; the id alone is not trusted as state
	c.refetch(ctx)
}

func (c *Channel) handleDisconnect(conn wsConn) {
	conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn != conn {
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	c.log.Warn("offer socket lost, falling back to polling")
	c.startPollingLocked()
	c.scheduleReconnectLocked()
}

// refetch pulls the offer list over REST and publishes the refreshed set.
func (c *Channel) refetch(ctx context.Context) {
	offers, err := c.client.Offers(ctx)
	if err != nil {
		c.log.WithError(err).Warn("offer refetch failed")
		return
	}

	c.mu.Lock()
	c.offers = offers
	c.mu.Unlock()

	c.bus.Publish(Event{Type: EventOffersChanged, Offers: offers})
}

func (c *Channel) scheduleReconnectLocked() {
	if c.reconnect != nil || c.closed {
		return
	}
	c.reconnect = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		c.reconnect = nil
		c.mu.Unlock()
		c.Connect()
	})
}

func (c *Channel) cancelReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Channel) startPollingLocked() {
	if c.pollStop != nil || c.closed {
		return
	}
	stop := make(chan struct{})
	c.pollStop = stop
	ctx := c.ctx

	go func() {
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.refetch(ctx)
			}
		}
	}()
}

func (c *Channel) stopPollingLocked() {
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
}

// Resume forces a reconnect attempt and an immediate refetch, used when
// connectivity returns or the app comes back to the foreground.
func (c *Channel) Resume() {
	c.mu.Lock()
	if c.closed || c.ctx == nil {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.cancelReconnectLocked()
	disconnected := c.state == StateDisconnected
	c.mu.Unlock()

	if disconnected {
		c.Connect()
	} else {
		c.refetch(ctx)
	}
}

// Close tears the channel down. It never reconnects afterwards.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelReconnectLocked()
	c.stopPollingLocked()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
