// Package agent implements chat.Client against a device-automation
// agent over HTTP: commands are plain POSTs, lifecycle and message
// signals arrive on a server-sent event stream.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatlink/bridge-server-go/internal/chat"
	apperrors "github.com/chatlink/bridge-server-go/internal/errors"
)

const (
	commandTimeout  = 30 * time.Second
	eventBufferSize = 64
)

// NewFactory returns a chat.Factory producing agent-backed clients for
// the automation agent at baseURL.
func NewFactory(baseURL string) chat.Factory {
	baseURL = strings.TrimRight(baseURL, "/")
	cmdClient := &http.Client{Timeout: commandTimeout}
	// The event stream stays open for the life of the session; request
	// contexts bound it instead of a client timeout.
	streamClient := &http.Client{}

	return func(userID string, resume bool) (chat.Client, error) {
		return &Client{
			baseURL: baseURL,
			userID:  userID,
			resume:  resume,
			cmd:     cmdClient,
			stream:  streamClient,
			events:  make(chan chat.Event, eventBufferSize),
		}, nil
	}
}

type Client struct {
	baseURL string
	userID  string
	resume  bool
	cmd     *http.Client
	stream  *http.Client
	events  chan chat.Event

	mu       sync.Mutex
	identity *chat.Identity

	destroyOnce sync.Once
}

func (c *Client) url(suffix string) string {
	return fmt.Sprintf("%s/sessions/%s%s", c.baseURL, c.userID, suffix)
}

func (c *Client) Initialize(ctx context.Context) error {
	body, _ := json.Marshal(map[string]bool{"resume": c.resume})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/initialize"), bytes.NewReader(body))
	if err != nil {
		return apperrors.External("chat agent", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cmd.Do(req)
	if err != nil {
		return apperrors.External("chat agent", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.External("chat agent",
			fmt.Errorf("initialize returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	streamReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/events"), nil)
	if err != nil {
		return apperrors.External("chat agent", err)
	}
	streamReq.Header.Set("Accept", "text/event-stream")

	streamResp, err := c.stream.Do(streamReq)
	if err != nil {
		return apperrors.External("chat agent", err)
	}
	if streamResp.StatusCode != http.StatusOK {
		streamResp.Body.Close()
		return apperrors.External("chat agent",
			fmt.Errorf("event stream returned %d", streamResp.StatusCode))
	}

	go c.pump(ctx, streamResp.Body)
	return nil
}

func (c *Client) Events() <-chan chat.Event {
	return c.events
}

func (c *Client) Identity() (chat.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return chat.Identity{}, false
	}
	return *c.identity, true
}

type sendRequest struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

func (c *Client) SendMessage(ctx context.Context, target, text string) (chat.Receipt, error) {
	body, err := json.Marshal(sendRequest{Target: target, Text: text})
	if err != nil {
		return chat.Receipt{}, apperrors.Internal("failed to encode send request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/messages"), bytes.NewReader(body))
	if err != nil {
		return chat.Receipt{}, apperrors.External("chat agent", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cmd.Do(req)
	if err != nil {
		return chat.Receipt{}, apperrors.SendFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return chat.Receipt{}, apperrors.SendFailure(
			fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return chat.Receipt{}, apperrors.SendFailure(fmt.Errorf("decode send response: %w", err))
	}

	status := result.Status
	if status == "" {
		status = "sent"
	}
	return chat.Receipt{ProviderMessageID: result.MessageID, Status: status}, nil
}

func (c *Client) Destroy() error {
	var destroyErr error
	c.destroyOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/destroy"), nil)
		if err != nil {
			destroyErr = err
			return
		}
		resp, err := c.cmd.Do(req)
		if err != nil {
			destroyErr = err
			return
		}
		resp.Body.Close()
	})
	return destroyErr
}

// agentPayload is the union of every event payload the agent emits.
type agentPayload struct {
	Code        string    `json:"code"`
	Reason      string    `json:"reason"`
	Message     string    `json:"message"`
	AccountID   string    `json:"accountId"`
	DisplayName string    `json:"displayName"`
	ID          string    `json:"id"`
	From        string    `json:"from"`
	FromName    string    `json:"fromName"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// pump reads the SSE stream and translates agent events into chat
// events. The events channel is closed when the stream ends, which the
// session manager treats as a disconnect if no terminal signal arrived
// first.
func (c *Client) pump(ctx context.Context, body io.ReadCloser) {
	defer body.Close()
	defer close(c.events)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder

	flush := func() {
		if eventName == "" && data.Len() == 0 {
			return
		}
		ev, ok := c.translate(eventName, data.String())
		eventName = ""
		data.Reset()
		if !ok {
			return
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Debug().Err(err).Str("userId", c.userID).Msg("agent event stream read error")
	}
}

func (c *Client) translate(name, data string) (chat.Event, bool) {
	var payload agentPayload
	if data != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			log.Warn().Err(err).Str("event", name).Msg("undecodable agent event payload")
			return chat.Event{}, false
		}
	}

	switch name {
	case "pairing_code":
		return chat.Event{Kind: chat.EventPairingCode, Code: payload.Code}, true
	case "authenticated":
		return chat.Event{Kind: chat.EventAuthenticated}, true
	case "ready":
		c.mu.Lock()
		c.identity = &chat.Identity{AccountID: payload.AccountID, DisplayName: payload.DisplayName}
		c.mu.Unlock()
		return chat.Event{Kind: chat.EventReady}, true
	case "message":
		ts := payload.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		return chat.Event{Kind: chat.EventMessage, Message: &chat.IncomingMessage{
			ProviderMessageID: payload.ID,
			FromAddress:       payload.From,
			FromName:          payload.FromName,
			Text:              payload.Text,
			ReceivedAt:        ts,
		}}, true
	case "disconnected":
		return chat.Event{Kind: chat.EventDisconnected, Reason: payload.Reason}, true
	case "auth_failure":
		return chat.Event{Kind: chat.EventAuthFailure, Reason: payload.Reason}, true
	case "error":
		return chat.Event{Kind: chat.EventError, Err: fmt.Errorf("%s", payload.Message)}, true
	case "logged_out":
		return chat.Event{Kind: chat.EventLoggedOut}, true
	}

	log.Debug().Str("event", name).Msg("ignoring unknown agent event")
	return chat.Event{}, false
}
