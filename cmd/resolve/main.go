package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lomackie/dns-resolver/internal/cache"
	"github.com/lomackie/dns-resolver/internal/hostsfile"
	"github.com/lomackie/dns-resolver/internal/resolver"
	"github.com/lomackie/dns-resolver/internal/sysconfig"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "resolve NAME",
	Short: "Resolve a host name through the async stub resolver",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func init() {
	rootCmd.Flags().String("server", "", "Override the nameserver, e.g. 8.8.8.8:53 or udp://8.8.8.8:53")
	rootCmd.Flags().String("type", "", "Record type: A, AAAA, or both if omitted")
	rootCmd.Flags().Duration("timeout", 0, "Per-exchange timeout, e.g. 500ms (default: resolv.conf or 3s)")
	rootCmd.Flags().String("hosts-file", "/etc/hosts", "Path to the hosts file")
	rootCmd.Flags().String("resolv-conf", "/etc/resolv.conf", "Path to the resolver config file")
	rootCmd.Flags().Bool("no-hosts", false, "Skip the hosts file")
	rootCmd.Flags().Bool("no-cache", false, "Skip the cache")
	rootCmd.Flags().Bool("verbose", false, "Enable debug logging")
}

func runResolve(cmd *cobra.Command, args []string) error {
	name := args[0]
	server, _ := cmd.Flags().GetString("server")
	typeFlag, _ := cmd.Flags().GetString("type")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	hostsPath, _ := cmd.Flags().GetString("hosts-file")
	resolvConfPath, _ := cmd.Flags().GetString("resolv-conf")
	noHosts, _ := cmd.Flags().GetBool("no-hosts")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	verbose, _ := cmd.Flags().GetBool("verbose")

	logger, err := newLogger(verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	types, err := parseTypes(typeFlag)
	if err != nil {
		return err
	}

	res, err := resolver.New(
		logger,
		cache.NewMemory(),
		hostsfile.New(hostsPath),
		sysconfig.New(resolvConfPath),
	)
	if err != nil {
		return fmt.Errorf("create resolver: %w", err)
	}
	defer res.Close()

	start := time.Now()
	answers, err := res.Resolve(name, resolver.Options{
		Types:        types,
		Server:       server,
		Timeout:      timeout,
		DisableHosts: noHosts,
		DisableCache: noCache,
	})
	elapsed := time.Since(start)
	if err != nil {
		return err
	}

	for _, a := range answers {
		if a.Unbounded {
			fmt.Printf("%s\t%s\t(unbounded)\n", a.Type, a.Data)
			continue
		}
		fmt.Printf("%s\t%s\t%ds\n", a.Type, a.Data, a.TTL)
	}
	logger.Debug("resolved", zap.String("name", name), zap.Duration("elapsed", elapsed), zap.Int("answers", len(answers)))
	return nil
}

func parseTypes(flag string) ([]resolver.RecordType, error) {
	switch flag {
	case "":
		return nil, nil
	case "A", "a":
		return []resolver.RecordType{resolver.TypeA}, nil
	case "AAAA", "aaaa":
		return []resolver.RecordType{resolver.TypeAAAA}, nil
	default:
		return nil, fmt.Errorf("unsupported --type %q (want A or AAAA)", flag)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = ""
	return cfg.Build()
}
