package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "walletd.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"security": {"key_cipher": "file-key"},
		"storage": {"wallet_api": {"base_url": "http://storage.local"}},
		"web3": {"chains_path": "chains.yaml"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Storage.TaskStore.Driver != "memory" || cfg.TaskQueue.Driver != "memory" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Storage.TaskStore.Retries != 3 || cfg.TaskQueue.Workers != 4 || cfg.Runtime.Lock.Driver != "memory" {
		t.Fatalf("unexpected runtime defaults %+v", cfg)
	}
	if cfg.Web3.ChainsPath != filepath.Join(filepath.Dir(path), "chains.yaml") {
		t.Fatalf("chains path should be resolved against the config dir, got %s", cfg.Web3.ChainsPath)
	}
	if cfg.Runtime.TaskTimeout().Minutes() != 10 {
		t.Fatalf("unexpected task timeout %v", cfg.Runtime.TaskTimeout())
	}
}

func TestEnvironmentOverridesSecrets(t *testing.T) {
	path := writeConfig(t, `{
		"security": {"key_cipher": "file-key"},
		"storage": {"wallet_api": {"base_url": "http://storage.local", "sys_key": "file-sys"}},
		"server": {"auth": {"keys": [{"name": "engine", "key_env": "ENGINE_API_KEY", "permissions": ["*"]}]}}
	}`)
	t.Setenv(EnvKeyCipher, "env-key")
	t.Setenv(EnvTreasuryKey, "0xtreasury")
	t.Setenv(EnvServiceKey, "0xservice")
	t.Setenv(EnvStorageSysKey, "env-sys")
	t.Setenv(EnvCustodialAccessKey, "env-access")
	t.Setenv("ENGINE_API_KEY", "engine-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Security.KeyCipher != "env-key" || cfg.Storage.WalletAPI.SysKey != "env-sys" {
		t.Fatalf("env should win over file values: %+v", cfg.Security)
	}
	if cfg.Operations.TreasuryKey != "0xtreasury" || cfg.Operations.ServiceKey != "0xservice" || cfg.Custodial.AccessKey != "env-access" {
		t.Fatalf("secrets not applied: %+v %+v", cfg.Operations, cfg.Custodial)
	}
	if cfg.Server.Auth.Keys[0].Key != "engine-secret" {
		t.Fatalf("api key should be read from its env var")
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	path := writeConfig(t, `{
		"storage": {"task_store": {"driver": "mysql"}},
		"task_queue": {"driver": "redis"},
		"runtime": {"lock": {"driver": "etcd"}}
	}`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"key_cipher", "base_url", "dsn", "storage.redis.address", "etcd"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q should mention %q", err, want)
		}
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if PathFromEnv() != DefaultPath {
		t.Fatalf("expected default path")
	}
	t.Setenv(EnvConfigPath, "/etc/walletd.json")
	if PathFromEnv() != "/etc/walletd.json" {
		t.Fatalf("expected env path")
	}
}

func TestEmailHost(t *testing.T) {
	if host := (EmailConfig{SMTPAddr: "smtp.example.com:587"}).Host(); host != "smtp.example.com" {
		t.Fatalf("unexpected host %s", host)
	}
}
