package audit

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	nc "github.com/nats-io/nats.go"
)

// bus is a minimal embedded NATS server plus one client connection,
// used only as the Audit Log's internal fan-out fabric between Log
// callers and the background insert subscriber. Adapted from the
// teacher's internal/nats.EmbeddedServer/Client pair, trimmed to the
// single subject this package needs — it is not a general message bus
// and carries no agent-originated payload off the process.
type bus struct {
	server *server.Server
	conn   *nc.Conn
}

func newBus() (*bus, error) {
	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       -1, // let the OS assign an ephemeral port; this bus is process-internal only
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to start embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("audit: embedded NATS server not ready for connections")
	}

	conn, err := nc.Connect(ns.ClientURL(), nc.MaxReconnects(-1), nc.ReconnectWait(time.Second))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("audit: failed to connect to embedded NATS server: %w", err)
	}

	return &bus{server: ns, conn: conn}, nil
}

func (b *bus) publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

func (b *bus) subscribe(handler func(data []byte)) {
	_, _ = b.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(msg.Data)
	})
}

func (b *bus) close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
		b.server.WaitForShutdown()
	}
}
