package websocket

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/internal/constants"
	"github.com/0xmhha/event-collector/pkg/eventbus"
)

// FeedID is the bus subscriber id of the WebSocket hub
const FeedID = "websocket-hub"

// FeedSource provides the stream of persisted events
type FeedSource interface {
	Subscribe(id string, bufferSize int) *eventbus.Subscription
	Unsubscribe(id string)
}

// Server upgrades live feed connections and relays every persisted event to them
type Server struct {
	hub      *Hub
	source   FeedSource
	upgrader websocket.Upgrader
	logger   *zap.Logger
	stopOnce sync.Once
}

// NewServer subscribes to source and starts the hub
func NewServer(source FeedSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("websocket")

	s := &Server{
		hub:    NewHub(logger),
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  constants.DefaultWSReadBufferSize,
			WriteBufferSize: constants.DefaultWSWriteBufferSize,
			// Browsers connect from the dashboard origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}

	sub := source.Subscribe(FeedID, constants.DefaultFeedBuffer)
	if sub == nil {
		logger.Warn("event bus stopped, live feed disabled")
		go s.hub.Run(nil)
	} else {
		go s.hub.Run(sub.Channel)
	}
	return s
}

// ServeHTTP handles WebSocket upgrade requests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(s.hub, conn, s.logger)
	if !s.hub.Register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	s.logger.Debug("new websocket connection",
		zap.String("remote_addr", r.RemoteAddr))
}

// Hub returns the underlying hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Stop leaves the event feed and disconnects every client
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.source.Unsubscribe(FeedID)
		s.hub.Stop()
	})
}
