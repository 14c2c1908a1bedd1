// Package sysconfig implements the external System Config Loader
// collaborator: it discovers the nameserver list, default timeout and
// attempt count the resolver should use when the caller doesn't override
// them. Parsing /etc/resolv.conf-style files is explicitly out of the
// resolver core's scope; this is the one default implementation behind the
// Loader interface the core consumes.
package sysconfig

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the structured form the loader returns.
type Config struct {
	Nameservers []string
	Timeout     time.Duration
	Attempts    int
}

// DefaultConfig is returned whenever the underlying file can't be read,
// matching the contract's documented fallback.
func DefaultConfig() Config {
	return Config{
		Nameservers: []string{"8.8.8.8:53", "8.8.4.4:53"},
		Timeout:     3000 * time.Millisecond,
		Attempts:    2,
	}
}

// Loader is the external collaborator the core depends on.
type Loader interface {
	Load() (Config, error)
}

// File parses a resolv.conf-style file.
type File struct {
	path string
}

func New(path string) *File {
	return &File{path: path}
}

func (f *File) Load() (Config, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return DefaultConfig(), err
	}
	defer fh.Close()

	cfg := DefaultConfig()
	cfg.Nameservers = nil

	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "nameserver":
			if len(fields) >= 2 {
				cfg.Nameservers = append(cfg.Nameservers, withDefaultPort(fields[1]))
			}
		case "options":
			for _, opt := range fields[1:] {
				parseOption(opt, &cfg)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return DefaultConfig(), err
	}

	if len(cfg.Nameservers) == 0 {
		cfg.Nameservers = DefaultConfig().Nameservers
	}
	return cfg, nil
}

func parseOption(opt string, cfg *Config) {
	name, value, ok := strings.Cut(opt, ":")
	if !ok {
		return
	}
	switch name {
	case "timeout":
		if secs, err := strconv.Atoi(value); err == nil {
			cfg.Timeout = time.Duration(secs) * time.Second
		}
	case "attempts":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.Attempts = n
		}
	}
}

// withDefaultPort appends the default DNS port to a bare nameserver address,
// matching the same host:port normalization owasp-amass's NewNameserver does
// for its address argument: try SplitHostPort first, and only fall back to
// JoinHostPort (which brackets IPv6 literals for us) when that fails.
func withDefaultPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "53")
}
