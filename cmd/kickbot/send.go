package main

import (
	"strings"

	"github.com/spf13/cobra"

	kick "github.com/NeboLoop/kick-go-sdk"
)

var sendCmd = &cobra.Command{
	Use:   "send <channel> <message...>",
	Short: "Send one chat message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		provider, cleanup, err := sessionProvider(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		cfg := clientConfig()
		cfg.ReadOnly = false
		cfg.Session = provider
		client := kick.New(cfg)
		defer client.Close()

		if err := client.Login(ctx); err != nil {
			return err
		}
		return client.SendMessageTo(ctx, args[0], strings.Join(args[1:], " "))
	},
}
