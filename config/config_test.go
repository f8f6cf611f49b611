package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"seedlink/client"
)

func TestLoadAndApply(t *testing.T) {
	content := `
server:
  address: "geofon.gfz-potsdam.de:18000"
  client_name: "slclient"
  client_version: "1.0"
  keepalive_seconds: 60
  network_timeout_seconds: 300
  reconnect_delay_seconds: 10
  dialup: true
streams:
  list: "IU_KONO:BHE BHN,GE_WLF"
  default_selectors: "LH?"
state:
  file: "seedlink.state"
logging:
  verbosity: 2
`
	path := filepath.Join(t.TempDir(), "slclient.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Address != "geofon.gfz-potsdam.de:18000" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.State.File != "seedlink.state" || cfg.Logging.Verbosity != 2 {
		t.Fatalf("config = %+v", cfg)
	}

	cl := client.New("default", "")
	if err := cfg.Apply(cl); err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if cl.Addr != cfg.Server.Address || !cl.Dialup {
		t.Fatalf("client not configured: %+v", cl)
	}
	if cl.Keepalive != 60*time.Second || cl.NetTimeout != 300*time.Second {
		t.Fatalf("durations not applied")
	}
	if cl.Streams.Len() != 2 {
		t.Fatalf("streams = %d, want 2", cl.Streams.Len())
	}
	if s := cl.Streams.Find("GE_WLF"); s == nil || s.Selectors != "LH?" {
		t.Fatalf("GE_WLF entry: %+v", s)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
