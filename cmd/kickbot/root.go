package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	kick "github.com/NeboLoop/kick-go-sdk"
	"github.com/NeboLoop/kick-go-sdk/session"
)

var cfgFile string

const (
	keyToken         = "token"
	keyXSRF          = "xsrf"
	keyCookie        = "cookie"
	keyUsername      = "username"
	keyPassword      = "password"
	keyOTPSecret     = "otp_secret"
	keyHeadless      = "headless"
	keyAPIBase       = "api_base"
	keyEndpoint      = "endpoint"
	keyMaxPerSocket  = "max_channels_per_socket"
	keyDB            = "db"
	keyPlainEmotes   = "plain_emotes"
	keyReadOnly      = "read_only"
	keyReconnect     = "reconnect"
	keyLogThroughput = "log_throughput"
)

var rootCmd = &cobra.Command{
	Use:          "kickbot",
	Short:        "A chat bot for Kick livestreams",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kickbot.yaml)")
	pf.String("token", "", "bearer token of a logged-in session")
	pf.String("xsrf", "", "XSRF token of the session")
	pf.String("cookie", "", "Cookie header of the session")
	pf.String("username", "", "account email or username for browser login")
	pf.String("password", "", "account password for browser login")
	pf.String("otp-secret", "", "base32 TOTP secret for two-factor login")
	pf.Bool("headless", true, "run the login browser headless")
	pf.String("api-base", kick.DefaultAPIBase, "REST API base URL")
	pf.String("endpoint", "", "gateway WebSocket URL")
	pf.Int("max-channels-per-socket", 10, "rooms per gateway connection")
	pf.String("db", "", "SQLite chat log path (disabled if empty)")

	for key, flag := range map[string]string{
		keyToken:        "token",
		keyXSRF:         "xsrf",
		keyCookie:       "cookie",
		keyUsername:     "username",
		keyPassword:     "password",
		keyOTPSecret:    "otp-secret",
		keyHeadless:     "headless",
		keyAPIBase:      "api-base",
		keyEndpoint:     "endpoint",
		keyMaxPerSocket: "max-channels-per-socket",
		keyDB:           "db",
	} {
		viper.BindPFlag(key, pf.Lookup(flag))
	}
	viper.SetDefault(keyPlainEmotes, true)

	rootCmd.AddCommand(watchCmd, loginCmd, sendCmd, historyCmd)
}

// initConfig reads the config file and KICK_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".kickbot")
	}
	viper.SetEnvPrefix("KICK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	}
}

// sessionProvider picks tokens if configured, otherwise a browser login.
// The returned cleanup closes the browser.
func sessionProvider(ctx context.Context) (session.Provider, func(), error) {
	if tok := viper.GetString(keyToken); tok != "" {
		return session.FromTokens(tok, viper.GetString(keyXSRF), viper.GetString(keyCookie)), func() {}, nil
	}
	user := viper.GetString(keyUsername)
	if user == "" {
		return nil, nil, fmt.Errorf("no session configured: set --token/--xsrf/--cookie or --username/--password")
	}
	browser, err := session.NewChromeBrowser(ctx, viper.GetBool(keyHeadless))
	if err != nil {
		return nil, nil, err
	}
	p := session.FromCredentials(session.Credentials{
		Username:  user,
		Password:  viper.GetString(keyPassword),
		OTPSecret: viper.GetString(keyOTPSecret),
	}, session.Options{Browser: browser, Logger: slog.Default()})
	return p, func() { browser.Close() }, nil
}

func clientConfig() kick.Config {
	cfg := kick.DefaultConfig()
	cfg.APIBase = viper.GetString(keyAPIBase)
	if ep := viper.GetString(keyEndpoint); ep != "" {
		cfg.Endpoint = ep
	}
	cfg.MaxChannelsPerSocket = viper.GetInt(keyMaxPerSocket)
	cfg.PlainEmotes = viper.GetBool(keyPlainEmotes)
	cfg.ReadOnly = viper.GetBool(keyReadOnly)
	cfg.Reconnect = viper.GetBool(keyReconnect)
	cfg.LogThroughput = viper.GetBool(keyLogThroughput)
	cfg.Logger = slog.Default()
	return cfg
}
