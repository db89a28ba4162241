package relay

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/lucsky/cuid"
	"github.com/pborman/uuid"
	"github.com/sourcegraph/jsonrpc2"
	websocketjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"

	// pprof
	_ "net/http/pprof"
)

// Server is the websocket signaling relay. It exchanges only
// connection-setup metadata between peers, never application payloads.
type Server struct {
	registry *Registry
	errChan  chan error
	nodeID   string

	config Config
}

// NewServer creates a signaling relay server
func NewServer(conf Config) (*Server, chan error) {
	e := make(chan error)
	s := &Server{
		registry: NewRegistry(),
		errChan:  e,
		nodeID:   uuid.New(),
		config:   conf,
	}
	return s, e
}

// ServeWebsocket listens for incoming websocket signaling connections
func (s *Server) ServeWebsocket() {
	r := mux.NewRouter()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	r.Handle("/ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peerID := r.URL.Query().Get("peer_id")
		if peerID == "" {
			peerID = cuid.New()
		}

		var token *accessToken
		if s.config.Auth.Enabled {
			var err error
			token, err = authGetAndValidateToken(s.config.Auth, r)
			if err != nil {
				log.Error(err, "error authenticating token", "peer_id", peerID)
				http.Error(w, "Invalid Token", http.StatusForbidden)
				return
			}
		}

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error(err, "error upgrading websocket", "peer_id", peerID)
			return
		}
		defer c.Close()

		prometheusGaugeClients.Inc()
		p := &peerConn{
			registry: s.registry,
			id:       peerID,
			token:    token,
		}

		jc := jsonrpc2.NewConn(r.Context(), websocketjsonrpc2.NewObjectStream(c), p)
		p.bind(r.Context(), jc)

		log.Info("peer connected", "peer_id", peerID, "node_id", s.nodeID)
		<-jc.DisconnectNotify()

		s.registry.LeaveAll(peerID)
		prometheusGaugeClients.Dec()
		log.Info("peer disconnected", "peer_id", peerID)
	}))

	r.Handle("/metrics", metricsHandler())
	r.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	http.Handle("/", r)

	var err error
	if s.config.Key != "" && s.config.Cert != "" {
		log.Info("Started signaling relay (https)", "listen", s.config.HTTPAddr)
		err = http.ListenAndServeTLS(s.config.HTTPAddr, s.config.Cert, s.config.Key, nil)
	} else {
		log.Info("Started signaling relay", "listen", s.config.HTTPAddr)
		err = http.ListenAndServe(s.config.HTTPAddr, nil)
	}

	if err != nil {
		s.errChan <- err
	}
}
