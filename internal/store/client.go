// Package store is a typed client for the remote document store that holds
// projected orchestration state.
//
// The store exposes two operation kinds — mutations (writes returning an
// inserted id) and queries (reads, optionally subscribable for change
// streams) — over a single long-lived WebSocket connection carrying JSON
// frames. Requests and responses are correlated by id; subscription updates
// arrive as unsolicited frames tagged with the subscription id.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// OpError tags a store failure with the operation that produced it.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *OpError) Unwrap() error { return e.Err }

func opErr(op string, format string, args ...any) error {
	return &OpError{Op: op, Err: fmt.Errorf(format, args...)}
}

type request struct {
	ID   int64          `json:"id"`
	Kind string         `json:"kind"` // mutation | query | subscribe | unsubscribe
	Name string         `json:"name,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

type response struct {
	ID           int64           `json:"id,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	ConvexError  json.RawMessage `json:"convexError,omitempty"`
	Subscription *int64          `json:"subscription,omitempty"`
	Update       json.RawMessage `json:"update,omitempty"`
}

// Subscription is a lazy, restartable stream of value updates for one query.
type Subscription struct {
	id      int64
	client  *Client
	Updates chan json.RawMessage
}

// Close cancels the subscription on the server and releases the stream.
func (s *Subscription) Close() error {
	return s.client.unsubscribe(s.id)
}

// Client wraps the long-lived store connection. The connection is not safe
// for concurrent writes, so each outgoing frame holds writeMu; callers may
// share one Client across tasks.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan response
	subs    map[int64]*Subscription
	closed  bool

	nextID atomic.Int64
	done   chan struct{}
}

// Connect dials the deployment URL, retrying once with exponential backoff
// before giving up. The returned client owns the connection.
func Connect(ctx context.Context, deploymentURL string) (*Client, error) {
	var conn *websocket.Conn

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	dial := func() error {
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		c, _, err := dialer.DialContext(ctx, deploymentURL, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", deploymentURL, err)
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(dial, policy); err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	client := &Client{
		conn:    conn,
		pending: make(map[int64]chan response),
		subs:    make(map[int64]*Subscription),
		done:    make(chan struct{}),
	}
	go client.readLoop()
	return client, nil
}

// Close shuts the connection down and fails all in-flight requests.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var resp response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.failAll(err)
			return
		}

		if resp.Subscription != nil {
			// The send happens under the lock so Close/unsubscribe cannot
			// close the channel mid-send.
			c.mu.Lock()
			if sub, ok := c.subs[*resp.Subscription]; ok {
				select {
				case sub.Updates <- resp.Update:
				default:
					// Slow consumer: drop the stale update; the next one
					// carries the full current value.
				}
			}
			c.mu.Unlock()
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		msg := err.Error()
		ch <- response{ErrorMessage: &msg}
	}
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub.Updates)
	}
}

func (c *Client) send(req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(req)
}

func (c *Client) roundTrip(ctx context.Context, kind, name string, args map[string]any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, opErr(name, "client closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.send(request{ID: id, Kind: kind, Name: name, Args: args}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, opErr(name, "send: %v", err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, opErr(name, "%v", ctx.Err())
	case resp := <-ch:
		if resp.ErrorMessage != nil {
			return nil, opErr(name, "store error: %s", *resp.ErrorMessage)
		}
		if len(resp.ConvexError) > 0 {
			return nil, opErr(name, "store error: %s", string(resp.ConvexError))
		}
		return resp.Result, nil
	}
}

// Mutation runs a named mutation and returns its raw result.
func (c *Client) Mutation(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	return c.roundTrip(ctx, "mutation", name, args)
}

// Query runs a named query and returns its raw result.
func (c *Client) Query(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	return c.roundTrip(ctx, "query", name, args)
}

// Subscribe starts a change stream for a named query.
func (c *Client) Subscribe(ctx context.Context, name string, args map[string]any) (*Subscription, error) {
	id := c.nextID.Add(1)
	sub := &Subscription{id: id, client: c, Updates: make(chan json.RawMessage, 16)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, opErr(name, "client closed")
	}
	c.subs[id] = sub
	c.mu.Unlock()

	if err := c.send(request{ID: id, Kind: "subscribe", Name: name, Args: args}); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return nil, opErr(name, "subscribe: %v", err)
	}
	return sub, nil
}

func (c *Client) unsubscribe(id int64) error {
	c.mu.Lock()
	sub, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
		close(sub.Updates)
	}
	closed := c.closed
	c.mu.Unlock()

	if !ok || closed {
		return nil
	}
	return c.send(request{ID: id, Kind: "unsubscribe"})
}

// HashToken hashes a bearer token for node registration; raw tokens never
// leave the machine.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// toArgs converts a record to its {name -> value} argument bag via its JSON
// shape: camelCase keys, optional (pointer) fields omitted when nil.
func toArgs(record any) (map[string]any, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return args, nil
}

// decode extracts a typed record from a raw store value, tagging type
// mismatches with the operation name.
func decode[T any](op string, raw json.RawMessage) (T, error) {
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, opErr(op, "decode %T from %s: %v", value, compact(raw), err)
	}
	return value, nil
}

func compact(raw json.RawMessage) string {
	const max = 120
	s := string(raw)
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}

// extractID expects the result to be a plain string document id.
func extractID(op string, raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", opErr(op, "expected string id, got: %s", compact(raw))
	}
	return id, nil
}
