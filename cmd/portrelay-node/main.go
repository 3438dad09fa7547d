// Command portrelay-node runs the node side of a forwarded port: it
// authenticates to the rendezvous with a node token, answers every
// SharePort invitation by opening a second connection that relays the
// circuit to a local service, and keeps its control connection alive with
// a steady Noop heartbeat. Grounded on original_source/client/src/lib.rs's
// Client::connect.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/arkwright/portrelay/command"
	"github.com/arkwright/portrelay/config"
	"github.com/arkwright/portrelay/keyfile"
	"github.com/arkwright/portrelay/logging"
	"github.com/arkwright/portrelay/rendezvous"
	"github.com/arkwright/portrelay/tunnel"
)

const heartbeatInterval = time.Second

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	e := os.Environ()
	if pflag.NArg() == 1 {
		var err error
		e, err = config.ReadEnvFile(pflag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
	}

	c := config.FromEnv(e)
	if err := c.RequireNode(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{Level: c.LogLevel, Path: c.LogPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: configure logging: %v\n", err)
		os.Exit(1)
	}

	serverKey, err := keyfile.ReadPublicKey(c.Cert)
	if err != nil {
		log.Error().Err(err).Msg("failed to load server public key")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, err := dialControl(c.Host, serverKey, c.Token)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to rendezvous")
		os.Exit(1)
	}
	log.Info().Str("addr", c.Host).Msg("node connected, authenticated")

	go receiveLoop(ctx, ctrl, c, serverKey, log)
	heartbeat(ctx, ctrl, log)
}

// dialControl opens the node's long-lived control connection and
// authenticates it with token, mirroring Client::connect's setup before it
// forks into its receive loop and heartbeat loop.
func dialControl(addr string, serverKey *rsa.PublicKey, token string) (*tunnel.Tunnel, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("generate tunnel key: %w", err)
	}

	tun := tunnel.New(conn, privateKey)
	tun.SetPublicKey(serverKey)
	if err := tun.SendPublicKey(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send public key: %w", err)
	}
	if err := tun.Send(command.Authenticate{Token: []byte(token)}.Encode(nil)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return tun, nil
}

// heartbeat sends Noop on ctrl every heartbeatInterval until ctx is
// cancelled, holding the control connection's Authorized registration open
// (spec.md §5's idle-connection liveness requirement).
func heartbeat(ctx context.Context, ctrl *tunnel.Tunnel, log zerolog.Logger) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ctrl.Send(command.Noop{}.Encode(nil)); err != nil {
				log.Error().Err(err).Msg("heartbeat failed, control connection lost")
				return
			}
		}
	}
}

// receiveLoop reads every command the rendezvous sends down ctrl. A
// SharePort invitation spawns a fresh circuit; everything else (Noop, or
// anything undecodable) is ignored, matching the upstream's catch-all arm.
func receiveLoop(ctx context.Context, ctrl *tunnel.Tunnel, c config.Config, serverKey *rsa.PublicKey, log zerolog.Logger) {
	for {
		payload, err := ctrl.Receive()
		if err != nil {
			log.Error().Err(err).Msg("control connection receive failed")
			return
		}
		cmd, err := command.Decode(payload)
		if err != nil {
			continue
		}
		share, ok := cmd.(command.SharePort)
		if !ok {
			continue
		}
		go relayCircuit(ctx, c, serverKey, share, log)
	}
}

// relayCircuit answers one SharePort invitation: it opens a second control
// connection, re-authenticates with the same token, echoes the SharePort
// back to claim the pending circuit, then splices the resulting raw half
// against a fresh connection to the locally forwarded service.
func relayCircuit(ctx context.Context, c config.Config, serverKey *rsa.PublicKey, share command.SharePort, log zerolog.Logger) {
	tun, err := dialControl(c.Host, serverKey, c.Token)
	if err != nil {
		log.Error().Err(err).Msg("relay: failed to open forwarding connection")
		return
	}

	if err := tun.Send(command.SharePort{Port: share.Port, ID: share.ID}.Encode(nil)); err != nil {
		log.Error().Err(err).Msg("relay: failed to claim circuit")
		tun.Close()
		return
	}

	local, err := net.Dial("tcp", fmt.Sprintf("localhost:%d", share.Port))
	if err != nil {
		log.Error().Err(err).Uint32("port", share.Port).Msg("relay: failed to reach local service")
		tun.Close()
		return
	}

	read, write := tun.IntoHalves()
	localRead, localWrite := tunnel.NewHalves(local)
	n := rendezvous.Splice(read, write, localRead, localWrite)
	log.Debug().Int64("bytes", n).Uint32("port", share.Port).Msg("relay circuit closed")
}
