// Command peervaultd is a minimal standalone daemon around a
// peervault.Transport: it loads configuration, establishes identity, and
// logs inbound connections and streams until terminated. It exists to
// exercise the library end-to-end outside of tests; embedders typically
// call peervault.New directly from their own process instead.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robcohen/peervault"
	"github.com/robcohen/peervault/internal/daemonconfig"
	"github.com/robcohen/peervault/internal/mocktransport"
	"github.com/robcohen/peervault/internal/relay"
)

func main() {
	configPath := flag.String("config", "peervaultd.yaml", "path to the daemon config file")
	flag.Parse()

	cfg, err := daemonconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("peervaultd: loading config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("peervaultd: %v", err)
	}
}

func run(ctx context.Context, cfg peervault.Config) error {
	key, err := peervault.LoadOrCreateSecretKey(cfg, func(b []byte) error {
		_, err := io.ReadFull(rand.Reader, b)
		return err
	})
	if err != nil {
		return fmt.Errorf("establishing identity: %w", err)
	}

	endpoint, err := newRelayEndpoint(cfg, key)
	if err != nil {
		return fmt.Errorf("creating relay endpoint: %w", err)
	}

	transport, err := peervault.New(ctx, cfg, endpoint)
	if err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	defer transport.Shutdown()

	ticket, err := transport.Ticket()
	if err != nil {
		return fmt.Errorf("generating ticket: %w", err)
	}
	log.Printf("peervaultd listening: node=%s ticket=%s", transport.NodeId(), ticket)

	transport.OnConnection(func(conn *peervault.Connection) {
		log.Printf("peervaultd: inbound connection from %s", conn.RemoteNodeId())
		go serveConnection(ctx, conn)
	})

	<-ctx.Done()
	log.Println("peervaultd: shutting down")
	return nil
}

// newRelayEndpoint wires the daemon's relay.Endpoint capability (spec §6.2
// is deliberately an opaque external capability this library never
// implements). Until a real relay client library is wired in, this daemon
// dials the websocket signaling hub in internal/mocktransport, treating
// cfg.RelayAddr as the hub's URL; swap this out for a production relay
// library's endpoint constructor when deploying against a real network.
func newRelayEndpoint(cfg peervault.Config, key peervault.SecretKey) (relay.Endpoint, error) {
	// The public NodeId is the ed25519 public key derived from the secret
	// key, so the secret itself never appears in tickets or logs.
	var id peervault.NodeId
	copy(id[:], ed25519.NewKeyFromSeed(key[:]).Public().(ed25519.PublicKey))
	return mocktransport.DialHub(cfg.RelayAddr, id)
}

func serveConnection(ctx context.Context, conn *peervault.Connection) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go func() {
			defer stream.Close()
			for {
				msg, err := stream.Receive(ctx)
				if err != nil {
					return
				}
				log.Printf("peervaultd: received %d bytes from %s", len(msg), conn.RemoteNodeId())
			}
		}()
	}
}
