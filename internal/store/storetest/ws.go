package storetest

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type subscription struct {
	conn  *wsConn
	subID int64
	req   request
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	var subs []*subscription
	defer func() {
		s.mu.Lock()
		for _, sub := range subs {
			s.removeSubscriptionLocked(sub)
		}
		s.mu.Unlock()
	}()

	for {
		var req request
		if err := raw.ReadJSON(&req); err != nil {
			return
		}

		switch req.Kind {
		case "mutation", "query":
			result, err := s.handle(req)
			resp := response{ID: req.ID}
			if err != nil {
				resp.ErrorMessage = err.Error()
			} else {
				resp.Result = result
			}
			if err := conn.writeJSON(resp); err != nil {
				return
			}
			if req.Kind == "mutation" && resp.ErrorMessage == "" {
				s.notifySubscribers()
			}

		case "subscribe":
			sub := &subscription{conn: conn, subID: req.ID, req: req}
			s.mu.Lock()
			s.subscribers = append(s.subscribers, sub)
			s.mu.Unlock()
			subs = append(subs, sub)
			s.pushUpdate(sub)

		case "unsubscribe":
			s.mu.Lock()
			for _, sub := range subs {
				if sub.subID == req.ID {
					s.removeSubscriptionLocked(sub)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) removeSubscriptionLocked(target *subscription) {
	kept := s.subscribers[:0]
	for _, sub := range s.subscribers {
		if sub != target {
			kept = append(kept, sub)
		}
	}
	s.subscribers = kept
}

// pushUpdate evaluates one subscription's query and sends the result.
func (s *Server) pushUpdate(sub *subscription) {
	queryReq := request{Kind: "query", Name: sub.req.Name, Args: sub.req.Args}
	result, err := s.handle(queryReq)
	if err != nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	var update any
	json.Unmarshal(data, &update)
	sub.conn.writeJSON(response{Subscription: &sub.subID, Update: update})
}

// notifySubscribers re-evaluates every subscription after a mutation,
// imitating the store's reactive queries.
func (s *Server) notifySubscribers() {
	s.mu.Lock()
	subs := make([]*subscription, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, sub := range subs {
		s.pushUpdate(sub)
	}
}
