package exchange

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// reconnectingFeed is a small gorilla/websocket wrapper that redials on
// disconnect (backing off between failed dials) and hands every text frame
// to onMessage. Grounded on the teacher's internal/binance/client.go
// runWebSocket/connectWebSocket loop, generalized into a venue-neutral
// helper; the Bybit order-update listener is its only user (Binance uses the
// SDK's user-data stream and Bitget polls).
type reconnectingFeed struct {
	url       string
	onMessage func([]byte)
	onConnect func(conn *websocket.Conn) error
	stopCh    chan struct{}
}

func newReconnectingFeed(url string, onMessage func([]byte)) *reconnectingFeed {
	return &reconnectingFeed{url: url, onMessage: onMessage, stopCh: make(chan struct{})}
}

func (f *reconnectingFeed) run(ctx context.Context) {
	delay := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			log.Warn().Err(err).Str("url", f.url).Msg("ws dial failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			if delay < 30*time.Second {
				delay *= 2
			}
			continue
		}
		delay = time.Second
		if f.onConnect != nil {
			if err := f.onConnect(conn); err != nil {
				log.Warn().Err(err).Str("url", f.url).Msg("ws handshake failed, reconnecting")
				conn.Close()
				continue
			}
		}
		f.readLoop(ctx, conn)
	}
}

func (f *reconnectingFeed) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.onMessage(msg)
	}
}

func (f *reconnectingFeed) stop() {
	close(f.stopCh)
}
