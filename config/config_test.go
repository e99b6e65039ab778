package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"xdao.co/boards/bootstrap"
	"xdao.co/boards/keys"
	"xdao.co/boards/storage/blockstore"
)

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.ExecContext() != bootstrap.ClientContext {
		t.Fatalf("expected client context, got %s", c.ExecContext())
	}
	if c.Version != DefaultVersion || time.Duration(c.DiscoveryInterval) != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestParse(t *testing.T) {
	k, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	peer := "/ip4/10.0.0.1/tcp/4001/p2p/" + k.PeerID()
	c, err := Parse([]byte(`{
		"context": "server",
		"version": "1.4.0",
		"listen": ["/ip4/0.0.0.0/tcp/4001"],
		"bootstrap": ["` + peer + `"],
		"discovery_interval": "1m",
		"blockstore": {"write_policy": "all", "backends": [{"name": "memory"}]}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.ExecContext() != bootstrap.ServerContext {
		t.Fatalf("expected server context")
	}
	if c.Version != "1.4.0" || c.HTTPListen != DefaultHTTPListen {
		t.Fatalf("unexpected config: %+v", c)
	}
	if time.Duration(c.DiscoveryInterval) != time.Minute {
		t.Fatalf("discovery interval: got %v", time.Duration(c.DiscoveryInterval))
	}
	if len(c.Bootstrap) != 1 || c.Bootstrap[0] != peer {
		t.Fatalf("bootstrap: got %v", c.Bootstrap)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":     `{"contxt": "server"}`,
		"unknown context":   `{"context": "browser"}`,
		"empty version":     `{"version": " "}`,
		"status url":        `{"status_url": "example.com"}`,
		"listen":            `{"listen": ["tcp/4001"]}`,
		"bootstrap peer id": `{"bootstrap": ["/ip4/10.0.0.1/tcp/4001"]}`,
		"blockstore":        `{"blockstore": {"backends": []}}`,
		"remote and local":  `{"remote_node": "127.0.0.1:7777", "blockstore": {"backends": [{"name": "memory"}]}}`,
		"interval":          `{"discovery_interval": 30}`,
		"negative interval": `{"discovery_interval": "-1s"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatalf("expected error for %s", doc)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boards.json")
	if err := os.WriteFile(path, []byte(`{"status_url": "http://127.0.0.1:8080", "remote_node": "127.0.0.1:7777"}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.StatusURL != "http://127.0.0.1:8080" || c.RemoteNode != "127.0.0.1:7777" {
		t.Fatalf("unexpected config: %+v", c)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil || !strings.HasPrefix(err.Error(), "config:") {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestValidate_BlockstorePassThrough(t *testing.T) {
	c := Default()
	c.Blockstore = &blockstore.Config{WritePolicy: "some", Backends: []blockstore.BackendConfig{{Name: "memory"}}}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected blockstore error")
	}
}
