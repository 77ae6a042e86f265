// Package config centralizes the exchange server's startup flags, the way
// the teacher's cmd/client/client.go uses stdlib flag rather than a CLI
// framework, generalized here to also cover the server binary the teacher
// left as inline constants.
package config

import "flag"

// ServerConfig holds cmd/server's startup parameters.
type ServerConfig struct {
	Address   string
	Port      int
	StatePath string
}

// ParseServerConfig parses os.Args-style flags for cmd/server.
func ParseServerConfig() ServerConfig {
	address := flag.String("address", "0.0.0.0", "Address to bind the exchange server")
	port := flag.Int("port", 9001, "Port to bind the exchange server")
	statePath := flag.String("state", "state.json", "Path to the persisted world-state file")
	flag.Parse()

	return ServerConfig{Address: *address, Port: *port, StatePath: *statePath}
}

// ClientConfig holds cmd/client's startup parameters.
type ClientConfig struct {
	ServerAddr string
	UserID     string
	Action     string
}

// ParseClientConfig parses os.Args-style flags for cmd/client.
func ParseClientConfig() ClientConfig {
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	userID := flag.String("user", "", "External user id (required except for 'ping' and 'get_markets')")
	action := flag.String("action", "ping", "Action to perform: ['ping', 'balance', 'get_markets']")
	flag.Parse()

	return ClientConfig{ServerAddr: *serverAddr, UserID: *userID, Action: *action}
}
