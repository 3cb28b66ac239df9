package execstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CapTrack/internal/domain/models"
	drepo "CapTrack/internal/domain/repository"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Client implements a FillStream backed by the broker's execution
// WebSocket feed.
type Client struct {
	apiKey         string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected bool
}

// New creates a new execution FillStream.
func New(apiKey, websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration) drepo.FillStream {
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("execstream connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	log.Info().Msg("execstream: connected")
	return nil
}

// Subscribe subscribes to execution reports for the configured symbols.
// An empty symbol list subscribes to the whole account.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("execstream not connected")
	}
	if len(c.symbols) == 0 {
		msg := map[string]string{"type": "subscribe", "channel": "executions"}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe executions: %w", err)
		}
		log.Info().Msg("execstream: subscribed all executions")
		return nil
	}
	for _, s := range c.symbols {
		msg := map[string]string{"type": "subscribe", "channel": "executions", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		log.Info().Str("symbol", s).Msg("execstream: subscribed")
	}
	return nil
}

type wsExecution struct {
	S  string  `json:"s"`
	St string  `json:"st"`
	D  string  `json:"d"`
	Q  float64 `json:"q"`
	P  float64 `json:"p"`
	T  int64   `json:"t"` // ms
}

type wsMessage struct {
	Type string        `json:"type"`
	Data []wsExecution `json:"data"`
}

// Read streams fill events and errors.
func (c *Client) Read(ctx context.Context) (<-chan *models.FillEvent, <-chan error) {
	fills := make(chan *models.FillEvent, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(fills)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("execstream conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("execstream read: %w", err)
					return
				}
				var m wsMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-execution frames
					continue
				}
				if m.Type != "executions" {
					continue
				}
				for _, d := range m.Data {
					fill := &models.FillEvent{
						Symbol:    d.S,
						Status:    models.OrderStatus(d.St),
						Direction: models.Direction(d.D),
						Quantity:  decimal.NewFromFloat(d.Q),
						Price:     decimal.NewFromFloat(d.P),
						Time:      time.UnixMilli(d.T).UTC(),
					}
					select {
					case fills <- fill:
					default:
						// drop on backpressure
					}
				}
			}
		}
	}()

	return fills, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
