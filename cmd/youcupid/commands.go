package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/youcupid/youcupid/api"
	"github.com/youcupid/youcupid/protocol"
)

func (a *app) serveCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the json api for the web client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			defer a.client.Close()
			if address != "" {
				a.cfg.HTTPAddress = address
			}
			if a.cfg.NostrPrivateKey == "" {
				slog.Warn("no private key configured, login will fail")
			}
			return api.New(a.client, a.cfg.HTTPAddress, a.cfg.CORSOrigins).ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "", "listen address overriding HTTP_ADDRESS")
	return cmd
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "show the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.login(cmd); err != nil {
				return err
			}
			user, err := a.client.Session()
			if err != nil {
				return err
			}
			return printJSON(cmd, user)
		},
	}
}

func (a *app) friendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "friends",
		Short: "list the accounts you follow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.login(cmd); err != nil {
				return err
			}
			friends, err := a.client.Friends(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, friend := range friends {
				npub, _ := nip19.EncodePublicKey(friend.PubKey)
				fmt.Fprintf(w, "%s\t%s\n", friend.Name, npub)
			}
			return w.Flush()
		},
	}
}

func (a *app) matchesCmd() *cobra.Command {
	var involvingMe bool
	cmd := &cobra.Command{
		Use:   "matches",
		Short: "list the matches you created",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.login(cmd); err != nil {
				return err
			}
			list := a.client.Matches
			if involvingMe {
				list = a.client.MatchesInvolvingMe
			}
			matches, err := list(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, match := range matches {
				fmt.Fprintf(w, "%s\t%s\t%s\n", match.ID, match.CreatedAt.Format(time.DateTime), match.Content)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&involvingMe, "involving-me", false, "list matches other people made for you")
	return cmd
}

func (a *app) matchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match <friend1> <friend2>",
		Short: "announce a match between two friends",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.login(cmd); err != nil {
				return err
			}
			match, err := a.client.CreateMatch(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", match.Content, match.ID)
			return nil
		},
	}
}

func (a *app) unmatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmatch <event-id>",
		Short: "request deletion of a match you created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.login(cmd); err != nil {
				return err
			}
			return a.client.DeleteMatch(cmd.Context(), args[0])
		},
	}
}

func (a *app) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <pubkey>",
		Short: "show the conversation with pubkey and send lines read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.login(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()
			user, err := a.client.Session()
			if err != nil {
				return err
			}
			peer, err := protocol.ParsePublicKey(args[0])
			if err != nil {
				return err
			}
			history, err := a.client.Conversation(ctx, peer)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printMessage := func(m protocol.DirectMessage) {
				from := lo.Ternary(m.From == user.PubKey, "me", protocol.ShortKey(m.From))
				fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Format(time.TimeOnly), from, m.Content)
			}
			for _, m := range history {
				printMessage(m)
			}
			live, err := a.client.Subscribe(ctx, peer)
			if err != nil {
				return err
			}
			go func() {
				for m := range live {
					// our own sends are echoed back by the relays
					if m.From != user.PubKey {
						printMessage(m)
					}
				}
			}()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				m, err := a.client.SendDirectMessage(ctx, peer, line)
				if err != nil {
					slog.Error("could not send message", "error", err)
					continue
				}
				printMessage(m)
			}
			return scanner.Err()
		},
	}
}

func (a *app) profileCmd() *cobra.Command {
	var name, about, picture string
	cmd := &cobra.Command{
		Use:   "profile [pubkey]",
		Short: "show a profile or update your own",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.login(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()
			user, err := a.client.Session()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				profile, err := a.client.Profile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, profile)
			}
			flags := cmd.Flags()
			if !flags.Changed("set-name") && !flags.Changed("set-about") && !flags.Changed("set-picture") {
				return printJSON(cmd, user.Profile)
			}
			profile := user.Profile
			if flags.Changed("set-name") {
				profile.Name = name
			}
			if flags.Changed("set-about") {
				profile.About = about
			}
			if flags.Changed("set-picture") {
				profile.Picture = picture
			}
			updated, err := a.client.UpdateProfile(ctx, profile)
			if err != nil {
				return err
			}
			return printJSON(cmd, updated)
		},
	}
	cmd.Flags().StringVar(&name, "set-name", "", "set your profile name")
	cmd.Flags().StringVar(&about, "set-about", "", "set your profile about text")
	cmd.Flags().StringVar(&picture, "set-picture", "", "set your profile picture url")
	return cmd
}

func (a *app) relaysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relays",
		Short: "connect and show the relay status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.login(cmd); err != nil {
				return err
			}
			status := a.client.Relays()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "state\t%s\n", status.State)
			for _, url := range status.Relays {
				fmt.Fprintf(w, "%s\t%s\n", url, lo.Ternary(lo.Contains(status.Connected, url), "connected", "-"))
			}
			return w.Flush()
		},
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generate a new key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			privateKey := nostr.GeneratePrivateKey()
			publicKey, err := nostr.GetPublicKey(privateKey)
			if err != nil {
				return fmt.Errorf("could not derive public key: %w", err)
			}
			nsec, err := nip19.EncodePrivateKey(privateKey)
			if err != nil {
				return err
			}
			npub, err := nip19.EncodePublicKey(publicKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "nsec: %s\nnpub: %s\n", nsec, npub)
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
