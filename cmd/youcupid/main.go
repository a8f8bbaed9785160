package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/youcupid/youcupid/config"
	"github.com/youcupid/youcupid/cupid"
	"github.com/youcupid/youcupid/protocol"
	"github.com/youcupid/youcupid/relay"
)

const (
	usageRelay = "relay url to use instead of the configured relays (repeatable)"
	usageKey   = "private key (hex or nsec) overriding NOSTR_PRIVATE_KEY"
)

var errNoKey = errors.New("no private key configured, set NOSTR_PRIVATE_KEY or pass --key")

type app struct {
	relays []string
	key    string

	cfg    *config.Config
	client *cupid.Client
}

func main() {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "youcupid",
		Short:         "matchmaking between friends over nostr",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringArrayVarP(&a.relays, "relay", "r", nil, usageRelay)
	rootCmd.PersistentFlags().StringVarP(&a.key, "key", "k", "", usageKey)

	rootCmd.AddCommand(
		a.serveCmd(),
		a.whoamiCmd(),
		a.friendsCmd(),
		a.matchesCmd(),
		a.matchCmd(),
		a.unmatchCmd(),
		a.chatCmd(),
		a.profileCmd(),
		a.relaysCmd(),
		keygenCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// setup loads the configuration, applies the flags and builds the client.
func (a *app) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	if len(a.relays) > 0 {
		cfg.NostrRelays = a.relays
	}
	if a.key != "" {
		cfg.NostrPrivateKey = a.key
	}
	a.cfg = cfg

	var signer protocol.Signer
	if cfg.NostrPrivateKey != "" {
		eventSigner, err := protocol.NewEventSigner(cfg.NostrPrivateKey)
		if err != nil {
			return fmt.Errorf("could not create signer: %w", err)
		}
		signer = eventSigner
	}
	set := relay.NewSet(relay.Options{
		Relays:         cfg.NostrRelays,
		Fallback:       cfg.NostrFallbackRelays,
		MaxAttempts:    cfg.ConnectMaxAttempts,
		ConnectTimeout: cfg.ConnectTimeout,
		RetryDelay:     cfg.ConnectRetryDelay,
		FetchTimeout:   cfg.FetchTimeout,
		OnStateChange: func(state relay.State) {
			slog.Debug("relay state changed", "state", state)
		},
	})
	a.client = cupid.New(cupid.Options{
		Relays:           set,
		Signer:           signer,
		PublishTimeout:   cfg.PublishTimeout,
		PropagationDelay: cfg.PropagationDelay,
		ProfileTTL:       cfg.ProfileCacheTTL,
	})
	return nil
}

// login runs setup and starts a session; commands that act as the user call it first.
func (a *app) login(cmd *cobra.Command) error {
	if err := a.setup(); err != nil {
		return err
	}
	if a.cfg.NostrPrivateKey == "" {
		return errNoKey
	}
	if _, err := a.client.Login(cmd.Context()); err != nil {
		return fmt.Errorf("could not log in: %w", err)
	}
	cobra.OnFinalize(a.client.Close)
	return nil
}
