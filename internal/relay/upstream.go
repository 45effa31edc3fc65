package relay

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// UpstreamClient is a Sender backed by a websocket connection. The
// upstream answers a too-fast sender with a rate_limit_exceeded
// message; the reader goroutine records it and the next SendBatch
// reports ErrThrottled so the relay backs off.
type UpstreamClient struct {
	url    string
	header http.Header

	mu        sync.Mutex
	conn      *websocket.Conn
	stopCh    chan struct{}
	throttled atomic.Bool
}

type upstreamBatch struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

type upstreamEvent struct {
	Type string `json:"type"`
}

func DialUpstream(url string, header http.Header) (*UpstreamClient, error) {
	c := &UpstreamClient{url: url, header: header}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *UpstreamClient) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	go c.readEvents(conn, stopCh)
	return nil
}

func (c *UpstreamClient) readEvents(conn *websocket.Conn, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev upstreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "rate_limit_exceeded":
			c.throttled.Store(true)
		case "error":
			log.Printf("upstream error event: %s", string(data))
		}
	}
}

// SendBatch writes one batch as a single frame. A single message goes
// out unwrapped; larger batches go out under a batch envelope.
func (c *UpstreamClient) SendBatch(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if c.throttled.Swap(false) {
		return ErrThrottled
	}

	var payload any
	if len(msgs) == 1 {
		payload = msgs[0]
	} else {
		payload = upstreamBatch{Type: "batch", Messages: msgs}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("upstream not connected")
	}
	if err := c.conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("write upstream: %w", err)
	}
	return nil
}

// Reconnect redials the upstream after a connection loss. The caller
// resets the relay budget alongside.
func (c *UpstreamClient) Reconnect() error {
	c.closeConn()
	c.throttled.Store(false)
	return c.connect()
}

func (c *UpstreamClient) Close() {
	c.closeConn()
}

func (c *UpstreamClient) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
