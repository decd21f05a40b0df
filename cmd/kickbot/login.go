package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print the session as KICK_* environment lines",
	Long: `Log in with --username/--password (and --otp-secret for two-factor
accounts) in a browser, then print the captured session so later runs can
use --token/--xsrf/--cookie without a browser.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		provider, cleanup, err := sessionProvider(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		a, err := provider.Login(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "KICK_TOKEN=%q\n", a.BearerToken)
		fmt.Fprintf(out, "KICK_XSRF=%q\n", a.XSRFToken)
		fmt.Fprintf(out, "KICK_COOKIE=%q\n", a.CookieHeader)
		return nil
	},
}
