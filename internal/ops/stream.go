package ops

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/events"
)

const writeDeadline = 5 * time.Second

// Stream fans the security event feed out to WebSocket subscribers.
// Delivery mirrors the bus contract: slow clients lose events, nothing
// blocks the pipeline.
type Stream struct {
	log zerolog.Logger
	bus *events.Bus

	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	upgrader   websocket.Upgrader

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewStream creates the hub; Run must be started for clients to receive
// anything.
func NewStream(bus *events.Bus, log zerolog.Logger) *Stream {
	return &Stream{
		log:        log.With().Str("component", "ops-stream").Logger(),
		bus:        bus,
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The ops listener is expected to be firewalled; origin
				// enforcement belongs to the deployment.
				return true
			},
		},
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run is the hub loop; call it on its own goroutine.
func (s *Stream) Run() {
	feed := s.bus.Subscribe()
	defer close(s.done)
	defer s.bus.Unsubscribe(feed)

	for {
		select {
		case client := <-s.register:
			s.clients[client] = true
			s.log.Debug().Int("clients", len(s.clients)).Msg("event subscriber connected")

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.Close()
			}
			s.log.Debug().Int("clients", len(s.clients)).Msg("event subscriber disconnected")

		case event := <-feed:
			for client := range s.clients {
				client.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := client.WriteJSON(event); err != nil {
					s.log.Debug().Err(err).Msg("event write failed, dropping subscriber")
					client.Close()
					delete(s.clients, client)
				}
			}

		case <-s.stopCh:
			for client := range s.clients {
				client.Close()
				delete(s.clients, client)
			}
			return
		}
	}
}

// Stop closes every subscriber and ends the hub loop.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

// HandleWebSocket upgrades the request and registers the client. The
// read loop exists only to detect the close.
func (s *Stream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	select {
	case s.register <- conn:
	case <-s.stopCh:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case s.unregister <- conn:
			case <-s.stopCh:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
