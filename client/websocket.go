package client

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// pushSocket maintains the websocket connection to the server's push
// endpoint, reconnecting with exponential backoff when the link drops.
type pushSocket struct {
	url       string
	onMessage func(string)

	mu        sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	connected bool

	maxRetry   int
	retryCount int
	baseDelay  time.Duration
	maxDelay   time.Duration
	dialer     websocket.Dialer
}

func newPushSocket(url string, onMessage func(string)) *pushSocket {
	return &pushSocket{
		url:       url,
		onMessage: onMessage,
		done:      make(chan struct{}),
		maxRetry:  5,
		baseDelay: time.Second,
		maxDelay:  time.Minute,
		dialer:    websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// connectWithRetry dials until connected or the retry budget is spent,
// then hands the connection to the read loop. timeoutSeconds bounds the
// total wait (0 waits forever).
func (p *pushSocket) connectWithRetry(timeoutSeconds int) error {
	connected := make(chan bool, 1)
	attempt := make(chan bool, 1)
	attempt <- true

	go func() {
		retries := 0
		for {
			select {
			case <-attempt:
				err := p.dial()
				if err != nil {
					slog.Error("push stream connection attempt failed", "error", err)
					retries++
					if retries > p.maxRetry {
						slog.Error(fmt.Sprintf("maximum number of retries reached (%d)", p.maxRetry))
						close(connected)
						return
					}
					time.AfterFunc(p.reconnectDelay(), func() {
						attempt <- true
					})
				} else {
					p.setConnected(true)
					close(connected)
					p.readLoop()
					return
				}
			case <-p.done:
				return
			}
		}
	}()

	if timeoutSeconds > 0 {
		select {
		case <-connected:
		case <-time.After(time.Duration(timeoutSeconds) * time.Second):
			return fmt.Errorf("push stream connection timeout after %ds", timeoutSeconds)
		}
	} else {
		<-connected
	}

	if !p.isConnected() {
		return fmt.Errorf("push stream connection failed")
	}
	return nil
}

func (p *pushSocket) dial() error {
	conn, _, err := p.dialer.Dial(p.url, nil)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	return nil
}

func (p *pushSocket) readLoop() {
	defer func() {
		p.setConnected(false)
		p.mu.Lock()
		if p.conn != nil {
			p.conn.Close()
		}
		p.mu.Unlock()
	}()
	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			slog.Warn(fmt.Sprintf("push stream read error: %v", err))
			return
		}
		if p.onMessage != nil {
			p.onMessage(string(message))
		}
	}
}

// reconnectDelay is baseDelay * 2^retryCount, capped at maxDelay.
func (p *pushSocket) reconnectDelay() time.Duration {
	delay := p.baseDelay * time.Duration(math.Pow(2, float64(p.retryCount)))
	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	p.retryCount++
	return delay
}

func (p *pushSocket) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *pushSocket) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *pushSocket) close() {
	close(p.done)
	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
	}
	p.mu.Unlock()
}
