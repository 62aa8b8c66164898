// Command ascii-chat-discovery runs ACDS, the rendezvous/relay service
// hosts register with so clients can find them by a three-word session
// string instead of a raw address.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ascii-chat/ascii-chat/internal/config"
	"github.com/ascii-chat/ascii-chat/internal/crypto"
	"github.com/ascii-chat/ascii-chat/internal/discovery"
	"github.com/ascii-chat/ascii-chat/internal/logging"
	"github.com/ascii-chat/ascii-chat/internal/metrics"
	"github.com/ascii-chat/ascii-chat/internal/netscan"
)

var log = logging.L("main")

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ascii-chat-discovery",
	Short: "ACDS: session rendezvous and SDP/ICE relay service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	rootCmd.Flags().Int("port", 0, "port to bind (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	v := viper.New()
	_ = v.BindPFlag("port", rootCmd.Flags().Lookup("port"))
	opts, err := config.LoadDiscoveryOptions(cfgFile, v)
	if err != nil {
		return err
	}
	logging.Init(opts.LogFormat, opts.LogLevel, os.Stdout)
	log = logging.L("main")

	if opts.ExposeIP {
		if ip, err := netscan.DetectExposeIP(); err != nil {
			log.Warn("could not auto-detect public IP", "error", err)
		} else {
			log.Info("auto-detected public IP", "ip", ip)
		}
	}

	identity, err := crypto.LoadOrGenerateIdentity(opts.IdentityKeyPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	log.Info("service identity", "fingerprint", identity.Fingerprint())

	var store *discovery.Store
	if opts.SqlitePath != "" {
		store, err = discovery.OpenStore(opts.SqlitePath)
		if err != nil {
			log.Warn("sqlite persistence unavailable, running in-memory only", "error", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	svc := discovery.NewService(opts, identity, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go metrics.ListenAndServe(ctx, opts.MetricsAddr)

	errCh := make(chan error, len(opts.Bind))
	for _, bind := range opts.Bind {
		addr := net.JoinHostPort(bind, fmt.Sprintf("%d", opts.Port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		log.Info("listening", "addr", addr)
		go func(ln net.Listener) {
			errCh <- svc.Serve(ctx, ln)
		}(ln)
	}

	<-ctx.Done()
	log.Info("shutting down")
	for range opts.Bind {
		if err := <-errCh; err != nil {
			log.Warn("serve returned error", "error", err)
		}
	}
	return nil
}
