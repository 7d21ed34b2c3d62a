package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/fourks/sockethub/internal/sockethub/config"
	"github.com/fourks/sockethub/internal/sockethub/keyring"
	"github.com/fourks/sockethub/internal/sockethub/store"
	"github.com/fourks/sockethub/internal/sockethub/subsystem"
)

// cliPlatform is the actor name of the transient ping client.
const cliPlatform = "cli"

// openControl connects a short-lived subsystem endpoint to the instance's
// control channel. The returned func closes it together with the store. The
// instance id must be configured: a generated one names a channel nobody
// listens on.
func openControl(ctx context.Context, cfg *config.Config, platform string, keys *keyring.Keyring) (*subsystem.Subsystem, func(), error) {
	instanceID, err := cfg.Session.SharedInstanceID()
	if err != nil {
		return nil, nil, err
	}
	shared, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening shared store: %w", err)
	}
	sub, appErr := subsystem.New(ctx, subsystem.Options{
		InstanceID: instanceID,
		Platform:   platform,
		Store:      shared,
		Keys:       keys,
		KeyTimeout: cfg.Session.GetKeyTimeout(),
	})
	if appErr != nil {
		shared.Close()
		return nil, nil, appErr
	}
	return sub, func() {
		sub.Close()
		shared.Close()
	}, nil
}

func newPingCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "List the processes answering on the control channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, closeLog, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer closeLog()

			sub, closeControl, err := openControl(ctx, cfg, cliPlatform, keyring.New(cfg.Session.InstanceID))
			if err != nil {
				return err
			}
			defer closeControl()

			var mu sync.Mutex
			seen := make(map[subsystem.Actor]time.Duration)
			sent := time.Now()
			sub.On(subsystem.VerbPingResponse, func(ctx context.Context, msg *subsystem.Message) {
				mu.Lock()
				defer mu.Unlock()
				if _, ok := seen[msg.Actor]; !ok {
					seen[msg.Actor] = time.Since(sent)
				}
			})
			if err := sub.Ping(ctx, subsystem.PingObject{}, ""); err != nil {
				return err
			}

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if len(seen) == 0 {
				errorLabel.Fprintf(cmd.ErrOrStderr(), "no response within %s\n", wait)
				return ErrAlreadyHandled
			}
			actors := make([]subsystem.Actor, 0, len(seen))
			for a := range seen {
				actors = append(actors, a)
			}
			sort.Slice(actors, func(i, j int) bool {
				if actors[i].Platform != actors[j].Platform {
					return actors[i].Platform < actors[j].Platform
				}
				return actors[i].ID < actors[j].ID
			})
			for _, a := range actors {
				okLabel.Fprintf(cmd.OutOrStdout(), "%-12s", a.Platform)
				fmt.Fprintf(cmd.OutOrStdout(), " %s  %s\n", a.ID, seen[a].Round(time.Millisecond))
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 2*time.Second, "How long to collect responses")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <sid>...",
		Short: "Retire sessions on every platform worker",
		Long: `Broadcast a cleanup for the given session ids. Every worker holding
one of the sessions clears it and removes its record from the shared
store. Requires SESSION.ENC_KEY, since only the dispatcher may send
cleanups.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, closeLog, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer closeLog()
			if cfg.Session.EncKey == "" {
				return fmt.Errorf("cleanup needs SESSION.ENC_KEY")
			}

			keys := keyring.New(cfg.Session.InstanceID)
			keys.Set(cfg.Session.EncKey)
			sub, closeControl, err := openControl(ctx, cfg, config.DispatcherPlatform, keys)
			if err != nil {
				return err
			}
			defer closeControl()

			if err := sub.Cleanup(ctx, args); err != nil {
				return err
			}
			okLabel.Fprintf(cmd.OutOrStdout(), "cleanup sent for %d session(s)\n", len(args))
			return nil
		},
	}
}
