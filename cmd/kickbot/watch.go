package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	kick "github.com/NeboLoop/kick-go-sdk"
	"github.com/NeboLoop/kick-go-sdk/chatlog"
	"github.com/NeboLoop/kick-go-sdk/frame"
	"github.com/NeboLoop/kick-go-sdk/telemetry"
	"github.com/NeboLoop/kick-go-sdk/wire"
)

const (
	keyPrefix      = "prefix"
	keyMetricsAddr = "metrics_addr"
)

var watchCmd = &cobra.Command{
	Use:   "watch <channel> [more channels...]",
	Short: "Join channels and log their chat",
	Long: `Join the first channel as the primary channel and subscribe to the rest.
Chat is logged, recorded to --db if set, and "!ping" is answered unless --read-only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.Bool("read-only", false, "subscribe without logging in; actions are disabled")
	f.Bool("reconnect", true, "re-subscribe channels of dropped connections")
	f.Bool("log-throughput", false, "log messages/sec per channel")
	f.Bool("plain-emotes", true, "render [emote:id:name] as name")
	f.String("prefix", "!", "command prefix")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	viper.BindPFlag(keyReadOnly, f.Lookup("read-only"))
	viper.BindPFlag(keyReconnect, f.Lookup("reconnect"))
	viper.BindPFlag(keyLogThroughput, f.Lookup("log-throughput"))
	viper.BindPFlag(keyPlainEmotes, f.Lookup("plain-emotes"))
	viper.BindPFlag(keyPrefix, f.Lookup("prefix"))
	viper.BindPFlag(keyMetricsAddr, f.Lookup("metrics-addr"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.InitTracing("kickbot", "1.0.0")
	if err != nil {
		return err
	}
	defer shutdown()

	cfg := clientConfig()
	if !cfg.ReadOnly {
		provider, cleanup, err := sessionProvider(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		cfg.Session = provider
	}

	var store *chatlog.Store
	if path := viper.GetString(keyDB); path != "" {
		if store, err = chatlog.Open(path); err != nil {
			return err
		}
		defer store.Close()
	}

	if addr := viper.GetString(keyMetricsAddr); addr != "" {
		go serveMetrics(ctx, addr)
	}

	client := kick.New(cfg)
	defer client.Close()
	b := &bot{client: client, store: store, prefix: viper.GetString(keyPrefix)}
	b.register()

	if !cfg.ReadOnly {
		if err := client.Login(ctx); err != nil {
			return err
		}
	}
	if err := client.Connect(ctx, args[0]); err != nil {
		return err
	}
	if len(args) > 1 {
		if err := client.Join(ctx, args[1:]...); err != nil {
			return err
		}
	}

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// bot wires the event handlers of the watch command.
type bot struct {
	client *kick.Client
	store  *chatlog.Store
	prefix string
}

func (b *bot) register() {
	c := b.client
	c.OnReady(func(u kick.User) {
		slog.Info("bot ready", "channel", u.Username, "user", u.Tag, "id", u.ID)
	})
	c.OnChatMessage(b.onChat)
	c.OnSubscription(func(s *wire.Subscription, ev frame.Event) {
		slog.Info("new subscription", "channel", b.slug(ev), "user", s.Username, "months", s.Months)
	})
	c.OnGiftedSubscriptions(func(g *wire.GiftedSubscriptions, ev frame.Event) {
		slog.Info("gifted subscriptions", "channel", b.slug(ev), "gifter", g.GifterUsername, "count", len(g.GiftedUsernames))
	})
	c.OnUserBanned(func(u *wire.UserBanned, ev frame.Event) {
		slog.Info("user banned", "channel", b.slug(ev), "user", u.User.Username, "by", u.BannedBy.Username, "permanent", u.Permanent)
	})
	c.OnUnknown(func(ev frame.Event) {
		slog.Debug("unhandled event", "event", ev.Name, "channel", ev.Channel)
	})
	c.OnDisconnect(func(d kick.Disconnect) {
		slog.Warn("gateway connection closed", "conn", d.ConnID, "channels", d.Slugs, "error", d.Err)
	})
	c.OnError(func(err error) {
		slog.Warn("client error", "error", err)
	})
}

func (b *bot) slug(ev frame.Event) string {
	if room, ok := ev.Room(); ok {
		if s, ok := b.client.Directory().LookupSlug(room); ok {
			return s
		}
	}
	return ev.Channel
}

func (b *bot) onChat(m *wire.ChatMessage, ev frame.Event) {
	channel := b.slug(ev)
	slog.Info("chat", "channel", channel, "user", m.Sender.Username, "message", m.Content)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if b.store != nil {
		if err := b.store.Record(ctx, channel, m); err != nil {
			slog.Warn("chat log write failed", "error", err)
		}
	}

	cmd, ok := kick.ParseCommand(b.prefix, m.Content)
	if !ok {
		return
	}
	switch cmd.Name {
	case "ping":
		err := b.client.Reply(ctx, m, "pong")
		if errors.Is(err, kick.ErrNotAuthenticated) {
			return
		}
		if err != nil {
			slog.Warn("reply failed", "channel", channel, "error", err)
		}
	}
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	slog.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("metrics server stopped", "error", err)
	}
}
