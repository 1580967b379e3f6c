package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"streamchat/internal/reconcile"
	"streamchat/internal/transport/http/handler"
	"streamchat/internal/view"
)

// Subscribe opens the gateway's SSE endpoint for one session. The
// returned subscription closes when the gateway sends a terminal
// event or the connection drops.
func (c *Client) Subscribe(sessionID string) (view.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())

	endpoint := c.baseURL + "/api/v1/chat/stream?session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request failed: %w", err)
	}
	req.Header.Set(handler.UserIDHeader, c.userID)
	req.Header.Set("Accept", "text/event-stream")

	// The shared client has a request timeout, which would cut the
	// stream off mid-session. Streams get their own transport.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream failed: status %d", resp.StatusCode)
	}

	sub := &sseSubscription{
		cancel: cancel,
		events: make(chan reconcile.Event, 16),
	}
	go sub.read(resp)
	return sub, nil
}

type sseSubscription struct {
	cancel context.CancelFunc
	events chan reconcile.Event

	mu  sync.Mutex
	err error
}

func (s *sseSubscription) Events() <-chan reconcile.Event { return s.events }

func (s *sseSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *sseSubscription) Cancel() { s.cancel() }

func (s *sseSubscription) read(resp *http.Response) {
	defer close(s.events)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	event, data := "", ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if done := s.dispatch(event, data); done {
				return
			}
			event, data = "", ""
		}
	}

	if err := scanner.Err(); err != nil {
		s.setErr(fmt.Errorf("stream read failed: %w", err))
	}
}

// dispatch handles one complete SSE frame. Returns true on a terminal
// frame, after which the gateway sends nothing further.
func (s *sseSubscription) dispatch(event, data string) bool {
	switch event {
	case "message":
		var ev reconcile.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return false
		}
		s.events <- ev
		return false
	case "error":
		s.setErr(errors.New(data))
		return true
	case "done":
		return true
	default:
		return false
	}
}

func (s *sseSubscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
