// Package config loads the boardsd JSON configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"xdao.co/boards/bootstrap"
	"xdao.co/boards/node"
	"xdao.co/boards/storage/blockstore"
)

const (
	DefaultVersion           = "dev"
	DefaultHTTPListen        = "127.0.0.1:8080"
	DefaultDiscoveryInterval = Duration(30 * time.Second)
)

// Config is the daemon configuration.
//
// Example:
//
//	{
//	  "context": "server",
//	  "version": "1.4.0",
//	  "listen": ["/ip4/0.0.0.0/tcp/4001"],
//	  "http_listen": ":8080",
//	  "grpc_listen": "127.0.0.1:7777",
//	  "discovery_interval": "1m",
//	  "blockstore": {"backends": [{"name": "localfs", "settings": {"dir": "/var/lib/boards/blocks"}}]}
//	}
type Config struct {
	// Context is "server" or "client"; empty means client.
	Context string `json:"context,omitempty"`
	Version string `json:"version,omitempty"`

	// StatusURL is the base URL of a server's status endpoint, used by
	// client-like processes for bootstrap hints.
	StatusURL string   `json:"status_url,omitempty"`
	Listen    []string `json:"listen,omitempty"`
	Bootstrap []string `json:"bootstrap,omitempty"`

	// Repo names the node key in KeyDir; an ephemeral key is used when empty.
	Repo   string `json:"repo,omitempty"`
	KeyDir string `json:"key_dir,omitempty"`

	Blockstore *blockstore.Config `json:"blockstore,omitempty"`

	// RemoteNode is a gRPC target; when set the process attaches to that
	// daemon's node instead of starting its own.
	RemoteNode string `json:"remote_node,omitempty"`

	// SettingsFile backs the persisted settings; in-memory defaults when empty.
	SettingsFile string `json:"settings_file,omitempty"`
	// HeadsFile persists replicated log heads; in-memory when empty.
	HeadsFile string `json:"heads_file,omitempty"`

	GRPCListen        string   `json:"grpc_listen,omitempty"`
	HTTPListen        string   `json:"http_listen,omitempty"`
	DiscoveryInterval Duration `json:"discovery_interval,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Version:           DefaultVersion,
		HTTPListen:        DefaultHTTPListen,
		DiscoveryInterval: DefaultDiscoveryInterval,
	}
}

// LoadFile reads path over Default. Unknown fields are rejected.
func LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(b)
}

// Parse decodes b over Default and validates the result.
func Parse(b []byte) (Config, error) {
	c := Default()
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if _, err := bootstrap.ParseContext(c.Context); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if strings.TrimSpace(c.Version) == "" {
		return errors.New("config: version must not be empty")
	}
	if c.StatusURL != "" && !strings.HasPrefix(c.StatusURL, "http://") && !strings.HasPrefix(c.StatusURL, "https://") {
		return fmt.Errorf("config: status_url must be an http(s) URL, got %q", c.StatusURL)
	}
	for _, l := range c.Listen {
		if _, err := ma.NewMultiaddr(l); err != nil {
			return fmt.Errorf("config: invalid listen multiaddr %q: %v", l, err)
		}
	}
	if _, bad := node.ValidAddrs(c.Bootstrap); len(bad) > 0 {
		return fmt.Errorf("config: invalid bootstrap multiaddr %q", bad[0])
	}
	if c.Blockstore != nil {
		if err := c.Blockstore.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.RemoteNode != "" && c.Blockstore != nil {
		return errors.New("config: blockstore has no effect with remote_node")
	}
	if c.DiscoveryInterval < 0 {
		return errors.New("config: discovery_interval must not be negative")
	}
	return nil
}

// ExecContext returns the parsed execution context.
func (c Config) ExecContext() bootstrap.Context {
	ec, _ := bootstrap.ParseContext(c.Context)
	return ec
}

// Duration is a time.Duration written as a Go duration string in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
