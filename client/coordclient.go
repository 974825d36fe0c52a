package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/richinsley/comfycoord/groupexec"
)

// CoordClientCallbacks respond to events pushed by the coordination
// server. Any callback may be nil.
type CoordClientCallbacks struct {
	Connected         func(*CoordClient, string)
	PlanReceived      func(*CoordClient, *groupexec.ExecutionPlan, *groupexec.CacheControlSignal, *groupexec.TriggerConfig)
	TextCacheChanged  func(*CoordClient, string, string)
	ImageCacheUpdated func(*CoordClient, string, int)
}

// CoordClient is the top level object for interacting with a comfycoord
// server: posting group configurations, requesting plans, triggering
// them, and receiving the push stream.
type CoordClient struct {
	serverBaseAddress string
	clientid          string
	initialized       bool
	callbacks         *CoordClientCallbacks
	httpclient        *http.Client
	pushsocket        *pushSocket
}

// NewCoordClient creates a new client for the server at the given address
// and port. Each client gets its own unique connection id.
func NewCoordClient(serverAddress string, serverPort int, callbacks *CoordClientCallbacks) *CoordClient {
	return &CoordClient{
		serverBaseAddress: serverAddress + ":" + strconv.Itoa(serverPort),
		clientid:          uuid.New().String(),
		callbacks:         callbacks,
		httpclient:        &http.Client{Timeout: 30 * time.Second},
	}
}

// ClientID returns the unique client ID for this connection.
func (c *CoordClient) ClientID() string {
	return c.clientid
}

// IsInitialized returns true if the push stream is connected.
func (c *CoordClient) IsInitialized() bool {
	return c.initialized
}

// Init connects the push stream. Plans triggered for this client id are
// delivered through the callbacks once Init returns.
func (c *CoordClient) Init() error {
	if c.initialized {
		return nil
	}
	url := fmt.Sprintf("ws://%s/ws?clientId=%s", c.serverBaseAddress, c.clientid)
	c.pushsocket = newPushSocket(url, c.onPushMessage)
	if err := c.pushsocket.connectWithRetry(10); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Close tears down the push stream.
func (c *CoordClient) Close() {
	if c.pushsocket != nil {
		c.pushsocket.close()
	}
	c.initialized = false
}

// onPushMessage dispatches one frame from the push stream to the
// registered callbacks.
func (c *CoordClient) onPushMessage(raw string) {
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		slog.Error("deserializing push message", "error", err)
		return
	}

	switch msg.Type {
	case "hello":
		var hello struct {
			ClientID string `json:"client_id"`
		}
		json.Unmarshal(msg.Data, &hello)
		if c.callbacks != nil && c.callbacks.Connected != nil {
			c.callbacks.Connected(c, hello.ClientID)
		}
	case groupexec.EventExecutionPlan:
		var bundle struct {
			ExecutionPlan      *groupexec.ExecutionPlan      `json:"execution_plan"`
			CacheControlSignal *groupexec.CacheControlSignal `json:"cache_control_signal"`
			TriggerConfig      *groupexec.TriggerConfig      `json:"trigger_config"`
		}
		if err := json.Unmarshal(msg.Data, &bundle); err != nil {
			slog.Error("deserializing execution bundle", "error", err)
			return
		}
		if c.callbacks != nil && c.callbacks.PlanReceived != nil {
			c.callbacks.PlanReceived(c, bundle.ExecutionPlan, bundle.CacheControlSignal, bundle.TriggerConfig)
		}
	case "text_cache_update":
		var update struct {
			Channel string `json:"channel"`
			Text    string `json:"text"`
		}
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			return
		}
		if c.callbacks != nil && c.callbacks.TextCacheChanged != nil {
			c.callbacks.TextCacheChanged(c, update.Channel, update.Text)
		}
	case "image_cache_update":
		var update struct {
			Channel string `json:"channel"`
			Count   int    `json:"count"`
		}
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			return
		}
		if c.callbacks != nil && c.callbacks.ImageCacheUpdated != nil {
			c.callbacks.ImageCacheUpdated(c, update.Channel, update.Count)
		}
	default:
		slog.Warn("unhandled push message type", "type", msg.Type)
	}
}
