package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/kastnerorz/NodeRSSBot/internal/app"
	"github.com/kastnerorz/NodeRSSBot/internal/config"
	"github.com/kastnerorz/NodeRSSBot/internal/feed"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

var (
	cfgPath string
	envFile string
)

func main() {
	root := &cobra.Command{
		Use:           "rssbot",
		Short:         "Telegram feed notification bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (json or yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(serveCmd(), notifyCmd(), subscribeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.ConfigManager, error) {
	cfgm := config.NewConfigManager(cfgPath)
	if _, err := cfgm.Load(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfgm, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: polling, operator commands and the notifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfgm, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfgm)
			if err != nil {
				return err
			}
			if err := a.Serve(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}
			notifySystemd(a.Logger(), daemon.SdNotifyReady)

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}
			notifySystemd(a.Logger(), daemon.SdNotifyStopping)

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)
			return a.Err()
		},
	}
}

func notifySystemd(log logx.Logger, state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	} else if ok {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func notifyCmd() *cobra.Command {
	var (
		feedID  int64
		text    string
		file    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Deliver one update to the subscribers of a feed and print the batch status",
		Long: `Reads an update as JSON from --file ("-" for stdin), or builds a text
broadcast from --text, dispatches it and waits for every recipient.

	{"feed": {"feed_id": 1, "feed_title": "..."}, "items": [{"link": "...", "title": "...", "content": "..."}]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := readUpdate(cmd.InOrStdin(), file, text)
			if err != nil {
				return err
			}
			if feedID != 0 {
				u.Feed.ID = feedID
			}
			if err := u.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfgm, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfgm)
			if err != nil {
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer stopCancel()
				_ = a.Stop(stopCtx, app.StopOneShot)
			}()
			if err := a.Start(ctx); err != nil {
				return err
			}

			n := a.Notifier()
			t, err := n.Notify(ctx, u)
			if err != nil {
				return err
			}
			wctx, wcancel := context.WithTimeout(ctx, timeout)
			defer wcancel()
			if err := t.Wait(wctx); err != nil {
				return fmt.Errorf("batch %s: %w", t.ID, err)
			}
			st, _ := n.Status(t.ID)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
	cmd.Flags().Int64Var(&feedID, "feed", 0, "feed id (overrides the id in --file)")
	cmd.Flags().StringVar(&text, "text", "", "raw text to broadcast")
	cmd.Flags().StringVar(&file, "file", "", `update JSON file, "-" for stdin`)
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long to wait for the batch")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	cmd.MarkFlagsOneRequired("text", "file")
	return cmd
}

func readUpdate(stdin io.Reader, file, text string) (feed.Update, error) {
	if text != "" {
		return feed.Update{Text: text}, nil
	}
	var r io.Reader = stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return feed.Update{}, err
		}
		defer f.Close()
		r = f
	}
	var u feed.Update
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		return feed.Update{}, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}

func subscribeCmd() *cobra.Command {
	var userID, feedID int64
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe a chat to a feed in the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 || feedID == 0 {
				return errors.New("--user and --feed are required")
			}
			// The store is all this needs; skip validation of the telegram section.
			cfg, err := config.NewConfigManager(cfgPath).Parse()
			if err != nil {
				return fmt.Errorf("load config %s: %w", cfgPath, err)
			}
			log := logx.NewConsole(cfg.Logging.Level)
			st, err := app.OpenStore(cfg, log.With(logx.String("comp", "storage")))
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := st.Subscribe(ctx, userID, feedID); err != nil {
				return err
			}
			log.Info("subscribed", logx.Int64("user_id", userID), logx.Int64("feed_id", feedID))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "chat id")
	cmd.Flags().Int64Var(&feedID, "feed", 0, "feed id")
	return cmd
}
