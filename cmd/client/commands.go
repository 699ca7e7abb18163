package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"castle_chat/internal/config"
	"castle_chat/internal/model"
	"castle_chat/internal/service/client"
	"castle_chat/internal/storage"
	"castle_chat/internal/store"
	"castle_chat/internal/utils/log"
)

var (
	cfg    *config.Config
	showQR bool
)

func Execute() error {
	root := &cobra.Command{
		Use:           "castle",
		Short:         "End-to-end encrypted, ephemeral chat",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return log.Setup(cfg.Log.Level, cfg.Log.Development)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = log.Sync()
		},
	}

	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newCmd(), joinCmd())
	return root.Execute()
}

// new: create a channel, print the invitation and wait for the friend.
func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Open a channel and print a join link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := client.NewClient(cfg.Relay.PublicURL)
			if err != nil {
				return err
			}
			id, err := c.CreateChannel(ctx)
			if err != nil {
				return err
			}
			secret, err := client.NewSecret()
			if err != nil {
				return err
			}

			link := client.Link{Relay: c.BaseURL(), Channel: id, Secret: secret}.String()
			fmt.Println("Share this link with your friend:")
			fmt.Println(link)
			if showQR {
				qrterminal.GenerateWithConfig(link, qrterminal.Config{
					Level:     qrterminal.M,
					Writer:    os.Stdout,
					BlackChar: qrterminal.BLACK,
					WhiteChar: qrterminal.WHITE,
					QuietZone: 1,
				})
			}

			return chatOn(ctx, c, id, secret)
		},
	}
	cmd.Flags().BoolVar(&showQR, "qr", true, "also print the link as a QR code")
	return cmd
}

// join: enter a channel from a link.
func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <link>",
		Short: "Join a channel from a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			link, err := client.ParseLink(args[0])
			if err != nil {
				return err
			}
			c, err := client.NewClient(link.Relay)
			if err != nil {
				return err
			}
			return chatOn(ctx, c, link.Channel, link.Secret)
		},
	}
}

func chatOn(ctx context.Context, c *client.Client, channel string, secret []byte) error {
	persisted, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	values := store.NewLayered(
		store.NewEncryptedMap[*model.MessageValue](storage.NewMemoryStorage(), "messageValues"),
		store.NewEncryptedMap[*model.MessageValue](persisted, "messageValues"),
	)
	opts := cfg.Chat.Options()
	if !opts.Ephemeral {
		opts.History = persisted
	}

	conn, err := c.Dial(ctx, channel, uuid.NewString())
	if err != nil {
		return fmt.Errorf("join channel: %w", err)
	}

	conv, err := client.StartAnonymous(ctx, conn, secret, values, opts)
	if err != nil {
		conn.Close()
		return err
	}
	defer conv.Close()

	if n, err := conv.Chat.RestoreHistory(ctx); err != nil {
		log.Warn("restore history failed", zap.Error(err))
	} else if n > 0 {
		fmt.Printf("(%d earlier messages restored)\n", n)
	}

	log.Debug("joined channel", zap.String("channel", channel))
	return runLoop(ctx, conv, os.Stdin, os.Stdout)
}
