// Command portrelay-client is the operator-facing CLI: get opens a local
// listener that forwards each accepted connection through the rendezvous
// to a node's shared port (an SSH -L style tunnel), and add_usr registers
// a new client credential. Neither subcommand has a precedent binary in
// the upstream source; both are built directly from the command package's
// wire primitives, following the teacher's small-top-level-functions CLI
// style (see cmd/tor-client/main.go).
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/arkwright/portrelay/command"
	"github.com/arkwright/portrelay/config"
	"github.com/arkwright/portrelay/keyfile"
	"github.com/arkwright/portrelay/logging"
	"github.com/arkwright/portrelay/rendezvous"
	"github.com/arkwright/portrelay/tunnel"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [env_file] get <node_hostname> <remote_port> <local_port>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s [env_file] add_usr <username> <token>\n", os.Args[0])
}

func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "get" && args[0] != "add_usr" {
		e, err := config.ReadEnvFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
		runWithEnv(e, args[1:])
		return
	}
	runWithEnv(os.Environ(), args)
}

func runWithEnv(e []string, args []string) {
	c := config.FromEnv(e)
	if err := c.RequireClient(); err != nil {
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

	if len(args) < 1 {
		runInteractive(ctx, c, serverKey, log)
		return
	}
	dispatch(ctx, c, serverKey, args, log)
}

// dispatch runs a single get/add_usr invocation, either from argv or from
// one line of interactive input.
func dispatch(ctx context.Context, c config.Config, serverKey *rsa.PublicKey, args []string, log zerolog.Logger) {
	switch args[0] {
	case "get":
		runGet(ctx, c, serverKey, args[1:], log)
	case "add_usr":
		runAddUsr(c, serverKey, args[1:], log)
	default:
		usage()
		os.Exit(2)
	}
}

// runInteractive reads one command per line from stdin when no subcommand
// is given on argv, the operator-CLI mode the original source's own
// `tcp_handshake` stub reads a line toward. Trailing "\r\n"/"\n" is
// trimmed before splitting — the source instead blindly truncates the
// last byte, assuming a bare "\n"; this trims every trailing line
// terminator instead.
func runInteractive(ctx context.Context, c config.Config, serverKey *rsa.PublicKey, log zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		dispatch(ctx, c, serverKey, fields, log)
	}
}

// dialControl opens one authenticated control connection to the
// rendezvous, the same handshake every subcommand needs before it can send
// a command (spec.md §4.2's Socket -> Authorized transition).
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

// runGet binds localPort and, for every accepted local connection, opens a
// fresh control connection, requests remotePort on hostname via GetPort,
// and splices the local connection against whatever the rendezvous pairs
// it with (spec.md §6's "get" interface).
func runGet(ctx context.Context, c config.Config, serverKey *rsa.PublicKey, args []string, log zerolog.Logger) {
	if len(args) != 3 {
		usage()
		os.Exit(2)
	}
	hostname := args[0]
	remotePort, err := parsePort(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: remote_port: %v\n", err)
		os.Exit(2)
	}
	localPort, err := parsePort(args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: local_port: %v\n", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", localPort))
	if err != nil {
		log.Error().Err(err).Msg("failed to bind local listener")
		os.Exit(1)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info().Str("hostname", hostname).Uint32("remote_port", remotePort).Int("local_port", localPort).Msg("forwarding, waiting for local connections")

	for {
		local, err := ln.Accept()
		if err != nil {
			log.Info().Msg("listener closed, exiting")
			return
		}
		go forwardOne(c, serverKey, hostname, remotePort, local, log)
	}
}

// forwardOne services a single accepted local connection end to end: open
// a control connection, send GetPort, then splice the local connection
// against the control connection's raw stream once the rendezvous pairs
// it with a node's SharePort.
func forwardOne(c config.Config, serverKey *rsa.PublicKey, hostname string, remotePort uint32, local net.Conn, log zerolog.Logger) {
	tun, err := dialControl(c.Host, serverKey, c.Token)
	if err != nil {
		log.Error().Err(err).Msg("get: failed to open forwarding connection")
		local.Close()
		return
	}

	if err := tun.Send(command.GetPort{Hostname: hostname, Port: remotePort}.Encode(nil)); err != nil {
		log.Error().Err(err).Msg("get: failed to request port")
		tun.Close()
		local.Close()
		return
	}

	read, write := tun.IntoHalves()
	localRead, localWrite := tunnel.NewHalves(local)
	n := rendezvous.Splice(read, write, localRead, localWrite)
	log.Debug().Int64("bytes", n).Msg("forwarded connection closed")
}

// runAddUsr registers a new Standard client credential (spec.md §6's
// "add_usr" interface).
func runAddUsr(c config.Config, serverKey *rsa.PublicKey, args []string, log zerolog.Logger) {
	if len(args) != 2 {
		usage()
		os.Exit(2)
	}
	username, token := args[0], args[1]

	tun, err := dialControl(c.Host, serverKey, c.Token)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to rendezvous")
		os.Exit(1)
	}
	defer tun.Close()

	cmd := command.AddClient{Username: username, Token: []byte(token), Permission: command.Standard}
	if err := tun.Send(cmd.Encode(nil)); err != nil {
		log.Error().Err(err).Msg("failed to send add_usr request")
		os.Exit(1)
	}
	fmt.Printf("requested client %q\n", username)
}

func parsePort(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}
