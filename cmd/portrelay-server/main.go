// Command portrelay-server runs the rendezvous: it accepts node and client
// control connections, authenticates them against a sqlite credential
// store, and pairs forwarded circuits between them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/arkwright/portrelay/config"
	"github.com/arkwright/portrelay/keyfile"
	"github.com/arkwright/portrelay/logging"
	"github.com/arkwright/portrelay/registry"
	"github.com/arkwright/portrelay/rendezvous"
	"github.com/arkwright/portrelay/store"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, config from the environment is ignored\n", os.Args[0], pflag.CommandLine.FlagUsages())
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
	if err := c.RequireServer(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{Level: c.LogLevel, Path: c.LogPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: configure logging: %v\n", err)
		os.Exit(1)
	}

	privateKey, err := keyfile.ReadPrivateKey(c.Cert)
	if err != nil {
		log.Error().Err(err).Msg("failed to load private key")
		os.Exit(1)
	}

	st, err := store.Open(c.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("failed to open credential store")
		os.Exit(1)
	}
	defer st.Close()

	srv := &rendezvous.Server{
		Addr:       c.Host,
		PrivateKey: privateKey,
		Store:      st,
		Registry:   registry.New(),
		Log:        log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		_ = srv.Close()
		<-errc
	case err := <-errc:
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}
