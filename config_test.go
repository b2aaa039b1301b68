package pycluster

import (
	"testing"
	"time"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PYCLUSTER_LISTEN_ADDR", ":9999")
	t.Setenv("PYCLUSTER_MAX_WORKERS", "3")
	t.Setenv("PYCLUSTER_HEARTBEAT_INTERVAL", "2s")
	t.Setenv("PYCLUSTER_TASK_TIMEOUT", "not-a-duration")

	cfg := ConfigFromEnv()
	if cfg.ListenAddr != ":9999" {
		t.Errorf("unexpected listen addr. got=%q, want=%q", cfg.ListenAddr, ":9999")
	}
	if cfg.MaxWorkers != 3 {
		t.Errorf("unexpected max workers. got=%d, want=%d", cfg.MaxWorkers, 3)
	}
	if cfg.HeartbeatInterval != 2*time.Second {
		t.Errorf("unexpected heartbeat interval. got=%v, want=%v", cfg.HeartbeatInterval, 2*time.Second)
	}
	if cfg.TaskTimeout != DefaultConfig().TaskTimeout {
		t.Errorf("invalid duration should keep the default. got=%v", cfg.TaskTimeout)
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	path := t.TempDir() + "/cluster.key"
	if err := SaveKeyFile(path, key); err != nil {
		t.Fatal(err)
	}
	got, err := LoadKeyFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(key) {
		t.Fatalf("unexpected key length. got=%d, want=%d", len(got), len(key))
	}
	for i := range key {
		if got[i] != key[i] {
			t.Fatalf("key byte %d differs. got=%x, want=%x", i, got[i], key[i])
		}
	}
}
