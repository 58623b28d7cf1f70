package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stocklab_go/internal/infra"
	"stocklab_go/pkg/quant"
)

// Tick is a live price update from the feed's websocket.
type Tick struct {
	Symbol      string
	PriceMicros quant.PriceMicros
	TimeUnixM   int64
}

type wsTickMessage struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Time   string `json:"time"`
}

type wsSubscribe struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// TickStream maintains the live price websocket: reconnection with backoff,
// read deadlines, a ping loop, and thread-safe writes. Each decoded tick is
// handed to onTick.
type TickStream struct {
	url     string
	symbols []string
	onTick  func(Tick)

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// NewTickStream creates a stream for the given symbols.
func NewTickStream(url string, symbols []string, onTick func(Tick)) *TickStream {
	return &TickStream{
		url:          url,
		symbols:      symbols,
		onTick:       onTick,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Start launches the connection loop.
func (s *TickStream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.runLoop(ctx)
}

// Stop terminates the stream and waits for the loop to exit.
func (s *TickStream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.close()
	s.wg.Wait()
}

func (s *TickStream) runLoop(ctx context.Context) {
	defer s.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			slog.Warn("tick stream connect failed", "err", err, "retry", retry)
			delay := infra.CalculateBackoff(retry)
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		s.readLoop(ctx)
	}
}

func (s *TickStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	sub, _ := json.Marshal(wsSubscribe{Op: "subscribe", Symbols: s.symbols})
	if err := s.write(websocket.TextMessage, sub); err != nil {
		s.close()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	if s.PingInterval > 0 {
		go s.pingLoop(ctx)
	}

	slog.Info("tick stream connected", "symbols", len(s.symbols))
	return nil
}

func (s *TickStream) readLoop(ctx context.Context) {
	for {
		s.mu.RLock()
		c := s.conn
		s.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("tick stream read error", "err", err)
			s.close()
			return
		}

		s.handleMessage(ctx, msg)
	}
}

func (s *TickStream) handleMessage(_ context.Context, msg []byte) {
	var m wsTickMessage
	if err := json.Unmarshal(msg, &m); err != nil || m.Symbol == "" {
		return // heartbeat or unknown frame
	}

	price, err := quant.ParsePriceMicros(m.Price)
	if err != nil {
		slog.Warn("tick with bad price dropped", "symbol", m.Symbol, "price", m.Price)
		return
	}

	tick := Tick{Symbol: m.Symbol, PriceMicros: price}
	if ts, err := time.Parse(time.RFC3339, m.Time); err == nil {
		tick.TimeUnixM = ts.UnixMicro()
	} else {
		tick.TimeUnixM = time.Now().UnixMicro()
	}

	if s.onTick != nil {
		s.onTick(tick)
	}
}

func (s *TickStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				slog.Warn("tick stream ping error", "err", err)
				s.close()
				return
			}
		}
	}
}

func (s *TickStream) write(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	c := s.conn
	s.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("tick stream not connected")
	}
	return c.WriteMessage(msgType, data)
}

func (s *TickStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
