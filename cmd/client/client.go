package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"fenrir/internal/config"
)

func main() {
	cfg := config.ParseClientConfig()

	if cfg.UserID == "" && cfg.Action != "get_markets" && cfg.Action != "ping" {
		fmt.Println("Error: -user is required for this action.")
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", cfg.ServerAddr)
	if err != nil {
		fmt.Printf("Failed to connect to server at %s: %v\n", cfg.ServerAddr, err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", cfg.ServerAddr)

	req := map[string]any{"type": cfg.Action}
	if cfg.UserID != "" {
		req["user_id"] = cfg.UserID
	}

	line, err := json.Marshal(req)
	if err != nil {
		fmt.Printf("Failed to encode request: %v\n", err)
		os.Exit(1)
	}
	line = append(line, '\n')

	if _, err := conn.Write(line); err != nil {
		fmt.Printf("Failed to send request: %v\n", err)
		os.Exit(1)
	}

	scanner := bufio.NewScanner(conn)
	if scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		fmt.Printf("Failed reading response: %v\n", err)
	}
}
