// Command client resolves a single hostname using the iterative resolver,
// per spec §6: `client <hostname> [--timeout SEC] [-c] [-t TTL]`.
//
// Grounded in classmarkets-go-dns-resolver's option-driven Resolver
// construction and in telepresenceio-telepresence/main.go's cobra
// root-command wiring for the CLI shape itself.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dnslab/rdns/cache"
	"github.com/dnslab/rdns/config"
	"github.com/dnslab/rdns/internal/log"
	"github.com/dnslab/rdns/resolver"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		timeoutSeconds int
		cacheEnabled   bool
		overrideTTL    int
		cachePath      string
	)

	cmd := &cobra.Command{
		Use:   "client <hostname>",
		Short: "Resolve a hostname using the iterative DNS resolver",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}

			if cachePath == "" {
				cachePath = cfg.CachePath
			}

			opts := []resolver.Option{
				resolver.WithTimeout(time.Duration(timeoutSeconds) * time.Second),
			}
			if cacheEnabled {
				c := cache.New(int(cfg.CacheSize), time.Duration(overrideTTL)*time.Second)
				if cachePath != "" {
					c.Load(cachePath)
				}
				opts = append(opts, resolver.WithCache(c))
				defer func() {
					if cachePath != "" {
						_ = c.Persist(cachePath)
					}
				}()
			}

			hints, err := resolver.DiscoverSystemHints()
			if err != nil {
				log.Debug(map[string]any{"error": err.Error()}, "falling back to built-in root hints")
				hints = resolver.RootHints
			}

			r := resolver.New(hints, opts...)
			canonical, aliases, addresses := r.GetHostByName(context.Background(), args[0])

			fmt.Println(canonical)
			fmt.Println(aliases)
			fmt.Println(addresses)
			return nil
		},
	}

	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 5, "per-try timeout, in seconds, for each outbound query")
	cmd.Flags().BoolVarP(&cacheEnabled, "cache", "c", false, "enable the resolver's TTL cache")
	cmd.Flags().IntVarP(&overrideTTL, "ttl", "t", 0, "override TTL, in seconds, for every cached record (0 keeps the record's own TTL)")
	cmd.Flags().StringVar(&cachePath, "cache-path", "", "path to persist/load the cache (defaults to the RDNS_CACHE_PATH config value when unset)")

	return cmd
}
