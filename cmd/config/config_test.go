package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"github.com/chaindexer/chaindexer/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.Postgres.PoolSize != 10 {
		t.Fatalf("unexpected pool size: %d", AppConfig.Postgres.PoolSize)
	}
	if len(AppConfig.Chains) != 1 || AppConfig.Chains[0].ChainID != 1 {
		t.Fatalf("unexpected chains: %+v", AppConfig.Chains)
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("docker")
	if AppConfig.Postgres.PoolSize != 20 {
		t.Fatalf("expected pool size 20, got %d", AppConfig.Postgres.PoolSize)
	}
	if AppConfig.Ops.ListenAddr != "0.0.0.0:9090" {
		t.Fatalf("expected docker listen addr override")
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	data := []byte("postgres:\n  dsn: sandbox-dsn\n  pool_size: 42\n")
	if err := sb.WriteFile("cmd/config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Postgres.DSN != "sandbox-dsn" {
		t.Fatalf("expected dsn sandbox-dsn, got %s", AppConfig.Postgres.DSN)
	}
	if AppConfig.Postgres.PoolSize != 42 {
		t.Fatalf("expected pool size 42, got %d", AppConfig.Postgres.PoolSize)
	}
}
