package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NeboLoop/kick-go-sdk/chatlog"
)

var historyCmd = &cobra.Command{
	Use:   "history [channel]",
	Short: "Print recorded chat from --db",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 50, "number of messages")
	historyCmd.Flags().String("grep", "", "only messages matching this regular expression")
}

func runHistory(cmd *cobra.Command, args []string) error {
	path := viper.GetString(keyDB)
	if path == "" {
		return errors.New("no chat log configured: set --db or KICK_DB")
	}
	var channel string
	if len(args) == 1 {
		channel = args[0]
	}
	limit, _ := cmd.Flags().GetInt("limit")
	pattern, _ := cmd.Flags().GetString("grep")

	store, err := chatlog.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	var entries []chatlog.Entry
	if pattern != "" {
		entries, err = store.Search(cmd.Context(), channel, pattern)
	} else {
		entries, err = store.Recent(cmd.Context(), channel, limit)
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e)
	}
	return nil
}
