// Command ascii-chat runs either side of a session: `server` hosts a
// many-to-many video/audio room, `client` connects to one.
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

	"github.com/ascii-chat/ascii-chat/internal/client"
	"github.com/ascii-chat/ascii-chat/internal/config"
	"github.com/ascii-chat/ascii-chat/internal/crypto"
	"github.com/ascii-chat/ascii-chat/internal/logging"
	"github.com/ascii-chat/ascii-chat/internal/metrics"
	"github.com/ascii-chat/ascii-chat/internal/server"
	"github.com/ascii-chat/ascii-chat/internal/transport"
)

var log = logging.L("main")

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ascii-chat",
	Short: "Real-time many-to-many ASCII video chat",
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Host a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var clientCmd = &cobra.Command{
	Use:   "client [endpoint]",
	Short: "Connect to a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")

	serverCmd.Flags().Int("port", 0, "TCP port to bind (overrides config)")
	serverCmd.Flags().String("password", "", "require this password from every joining client")
	clientCmd.Flags().Bool("snapshot", false, "render a single frame and exit")
	clientCmd.Flags().String("display-name", "", "name shown to other participants")
	clientCmd.Flags().String("password", "", "session password, if the host requires one")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clientCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer() error {
	v := viper.New()
	_ = v.BindPFlag("port", serverCmd.Flags().Lookup("port"))
	_ = v.BindPFlag("password", serverCmd.Flags().Lookup("password"))
	opts, err := config.LoadServerOptions(cfgFile, v)
	if err != nil {
		return err
	}
	logging.Init(opts.LogFormat, opts.LogLevel, os.Stdout)
	log = logging.L("main")

	identity, err := crypto.LoadOrGenerateIdentity(opts.IdentityKeyPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	log.Info("host identity", "fingerprint", identity.Fingerprint())

	sc := server.NewServerContext(opts, identity)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go metrics.ListenAndServe(ctx, opts.MetricsAddr)

	for _, bind := range opts.Bind {
		addr := net.JoinHostPort(bind, fmt.Sprintf("%d", opts.Port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		log.Info("listening", "addr", addr)
		go acceptTCPLoop(ctx, sc, ln)
	}

	go func() {
		sc.Run()
	}()

	<-ctx.Done()
	log.Info("shutting down")
	sc.Shutdown()
	return nil
}

func acceptTCPLoop(ctx context.Context, sc *server.ServerContext, ln net.Listener) {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Warn("accept failed", "error", err)
			return
		}
		go sc.Accept(func(ev transport.Events) transport.Session {
			return transport.AcceptTCP(conn, ev)
		})
	}
}

func runClient(endpoint string) error {
	v := viper.New()
	_ = v.BindPFlag("snapshot", clientCmd.Flags().Lookup("snapshot"))
	_ = v.BindPFlag("password", clientCmd.Flags().Lookup("password"))
	opts, err := config.LoadClientOptions(cfgFile, v)
	if err != nil {
		return err
	}
	opts.Endpoint = endpoint
	logging.Init(opts.LogFormat, opts.LogLevel, os.Stdout)
	log = logging.L("main")

	identity, err := crypto.LoadOrGenerateIdentity(opts.IdentityKeyPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	trustStore, err := crypto.OpenStore(opts.TrustStorePath)
	if err != nil {
		return fmt.Errorf("open trust store: %w", err)
	}

	displayName, _ := clientCmd.Flags().GetString("display-name")
	term := newTerminalUI(opts.VideoEnabled, opts.AudioEnabled)

	c := client.New(client.Options{
		ClientOptions: opts,
		Identity:      identity,
		TrustStore:    trustStore,
		DisplayName:   displayName,
		Video:         term,
		Audio:         term,
		Render:        term,
		Input:         term,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Run(ctx); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	return nil
}
