package relay

import (
	"fmt"
	"net"

	"github.com/dgrijalva/jwt-go"

	"github.com/cryptagon/meetmesh/pkg/logger"
)

var log = logger.GetLogger().WithName("relay")

// RootConfig is the root config read in from config.toml
type RootConfig struct {
	Relay   Config
	Client  ClientConfig
	Session SessionConfig
}

// Endpoint public websocket endpoint to hit
func (c *RootConfig) Endpoint() string {
	scheme := "ws"
	if c.Relay.Key != "" && c.Relay.Cert != "" {
		scheme = "wss"
	}

	_, port, err := net.SplitHostPort(c.Relay.HTTPAddr)
	if err != nil {
		port = "7000"
	}
	return fmt.Sprintf("%v://%v:%v/ws", scheme, c.Relay.FQDN, port)
}

// Config params for the relay's http listener / websocket server
type Config struct {
	FQDN     string
	Key      string
	Cert     string
	HTTPAddr string
	Auth     AuthConfig
}

// AuthConfig params for JWT token authentication
type AuthConfig struct {
	Enabled bool
	Key     string
	KeyType string
}

func (a AuthConfig) keyFunc(t *jwt.Token) (interface{}, error) {
	switch a.KeyType {
	//TODO: add more support for keytypes here
	default:
		return []byte(a.Key), nil
	}
}

// ClientConfig params for the engine side: which relay to dial and how to
// build share links and peer transports.
type ClientConfig struct {
	URL        string
	Token      string
	LinkBase   string
	ICEServers []string
}

// SessionConfig tunables for the session coordinator.
type SessionConfig struct {
	OperationTimeoutSec int
	CursorIntervalMs    int
}
