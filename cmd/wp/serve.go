package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"washplan/internal/db"
	"washplan/internal/feed"
	"washplan/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long: `Serves the JSON API, the change stream and /metrics.
Bearer auth is enabled when WASHPLAN_JWT_SECRET is set; mint tokens with 'wp token'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, log, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			cfg := rt.Config
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			e := rt.Engine

			g, ctx := errgroup.WithContext(cmd.Context())
			broker := feed.NewBroker(e.Repo, feed.Options{Interval: cfg.Feed.PollInterval.Std(), Log: log})
			if err := broker.Init(ctx); err != nil {
				return err
			}
			g.Go(func() error { return broker.Run(ctx) })
			if cfg.Database.Driver == db.DriverPostgres {
				g.Go(func() error { return feed.ListenPostgres(ctx, cfg.Database.DSN, cfg.Feed.Channel, broker, log) })
			}
			waitHooks := server.StartWebhooks(ctx, broker, cfg.Webhooks, e.Location(), log)

			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), Logger: log}
			if authCfg.JWTSecret == "" {
				log.Warn("WASHPLAN_JWT_SECRET not set; API is open and changes are recorded as the local user")
			}
			handler, err := server.New(server.Config{Engine: e, Broker: broker, BasePath: basePath, Auth: authCfg, Log: log})
			if err != nil {
				return err
			}
			srv := newHTTPServer(ctx, addr, handler)
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				log.WithField("addr", addr).Infof("serving washplan API on http://%s%s (OpenAPI at %s/openapi.json, docs at /docs)", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			err = g.Wait()
			waitHooks()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (defaults to server.base_path)")
	return cmd
}

// newHTTPServer derives every request context from ctx so open change
// streams end when the server shuts down.
func newHTTPServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), actorID(), ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token, "actor_id": actorID()})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}
