// room-watcher connects to the relay's websocket endpoint, joins the
// requested rooms and logs every event it receives. It is a manual testing
// aid for the storefront and admin flows.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func main() {
	url := pflag.String("url", "ws://localhost:8080/ws", "relay websocket endpoint")
	admin := pflag.Bool("admin", false, "join the admin room")
	orders := pflag.StringSlice("order", nil, "order ids whose rooms to join (repeatable)")
	timeout := pflag.Duration("dial-timeout", 10*time.Second, "dial timeout")
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, *timeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, *url, nil)
	cancel()
	if err != nil {
		logger.Error("failed to connect", "url", *url, "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("connected", "url", *url)

	if *admin {
		if err := conn.WriteJSON(envelope{Event: "join_admin"}); err != nil {
			logger.Error("failed to join admin room", "error", err)
			os.Exit(1)
		}
	}
	for _, id := range *orders {
		data, _ := json.Marshal(id)
		if err := conn.WriteJSON(envelope{Event: "join_order", Data: data}); err != nil {
			logger.Error("failed to join order room", "order_id", id, "error", err)
			os.Exit(1)
		}
	}
	logger.Info("watching", "admin", *admin, "orders", *orders)

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				logger.Info("stopped")
				return
			}
			logger.Error("connection closed", "error", err)
			os.Exit(1)
		}
		logger.Info("event", "event", env.Event, "data", env.Data)
	}
}
