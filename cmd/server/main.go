// Command server runs the recursive/authoritative DNS server described in
// spec §4.4 and §6: `server [-c] [-t TTL] [-p PORT] [--zone-dir PATH]`.
//
// Grounded in original_source/proj_s4499115_s4359283/dns/server.py's
// Server.__init__/serve/shutdown lifecycle; the cobra flag surface and
// graceful-shutdown-on-signal wiring are idiomatic Go additions grounded in
// telepresenceio-telepresence/main.go's cobra usage.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dnslab/rdns/cache"
	"github.com/dnslab/rdns/config"
	"github.com/dnslab/rdns/internal/log"
	"github.com/dnslab/rdns/resolver"
	"github.com/dnslab/rdns/server"
	"github.com/dnslab/rdns/zone"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		port         int
		cacheEnabled bool
		overrideTTL  int
		zoneDir      string
		cachePath    string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the recursive/authoritative DNS server",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}

			if port == 0 {
				port = cfg.Port
			}
			if zoneDir == "" {
				zoneDir = cfg.ZoneDir
			}
			if cachePath == "" {
				cachePath = cfg.CachePath
			}
			if !cmd.Flags().Changed("cache") {
				cacheEnabled = cfg.CacheEnabled
			}

			cat := zone.NewCatalog()
			if zoneDir != "" {
				loaded, err := zone.LoadDirectory(zoneDir)
				if err != nil {
					return fmt.Errorf("load zones: %w", err)
				}
				cat = loaded
			}

			var resolverOpts []resolver.Option
			resolverOpts = append(resolverOpts, resolver.WithTimeout(cfg.UpstreamTimeout))

			var serverOpts []server.Option
			if cacheEnabled {
				ttl := cfg.CacheOverrideTTL
				if overrideTTL > 0 {
					ttl = time.Duration(overrideTTL) * time.Second
				}
				c := cache.New(int(cfg.CacheSize), ttl)
				if cachePath != "" {
					c.Load(cachePath)
				}
				resolverOpts = append(resolverOpts, resolver.WithCache(c))
				serverOpts = append(serverOpts, server.WithCachePersistence(c, cachePath))
			}

			hints, err := resolver.DiscoverSystemHints()
			if err != nil {
				log.Debug(map[string]any{"error": err.Error()}, "falling back to built-in root hints")
				hints = resolver.RootHints
			}

			res := resolver.New(hints, resolverOpts...)
			srv := server.New(cat, res, serverOpts...)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe(fmt.Sprintf(":%d", port))
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info(nil, "shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "UDP port to listen on (defaults to the RDNS_PORT config value)")
	cmd.Flags().BoolVarP(&cacheEnabled, "cache", "c", false, "enable the resolver's TTL cache")
	cmd.Flags().IntVarP(&overrideTTL, "ttl", "t", 0, "override TTL, in seconds, for every cached record (0 keeps the config value)")
	cmd.Flags().StringVar(&zoneDir, "zone-dir", "", "directory of *.zone master files to load as authoritative data")
	cmd.Flags().StringVar(&cachePath, "cache-path", "", "path to persist/load the cache (defaults to the RDNS_CACHE_PATH config value)")

	return cmd
}
