package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"aide/pkg/logx"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const yamlConfig = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: "10s"
oracle:
  model: "llama3"
  base_url: "http://localhost:11434/v1"
storage:
  driver: sqlite
  path: "./aide.db"
logging:
  level: debug
  console: true
tasks:
  cadence: "@every 30s"
  catch_up: skip
  max_failures: 3
monitor:
  cadence: "@every 5m"
  fetch_timeout: "20s"
`

const jsonConfig = `{
  "telegram": {"token": "123:abc", "owner_user_ids": [42], "poll_timeout": "10s"},
  "oracle": {"model": "llama3", "base_url": "http://localhost:11434/v1"},
  "storage": {"driver": "sqlite", "path": "./aide.db"},
  "logging": {"level": "debug", "console": true},
  "tasks": {"cadence": "@every 30s", "catch_up": "skip", "max_failures": 3},
  "monitor": {"cadence": "@every 5m", "fetch_timeout": "20s"}
}`

func TestYAMLAndJSONParseIdentically(t *testing.T) {
	t.Parallel()
	fromYAML, err := NewManager(writeFile(t, "aide.yaml", yamlConfig), logx.Nop()).Load()
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	fromJSON, err := NewManager(writeFile(t, "aide.json", jsonConfig), logx.Nop()).Load()
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if !reflect.DeepEqual(fromYAML, fromJSON) {
		t.Fatalf("yaml %+v != json %+v", fromYAML, fromJSON)
	}
	if fromYAML.Tasks.CatchUp != "skip" || fromYAML.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("unexpected parse result: %+v", fromYAML)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	t.Parallel()
	bad := strings.Replace(yamlConfig, "tasks:", "taks_typo: {}\ntasks:", 1)
	_, err := NewManager(writeFile(t, "aide.yaml", bad), logx.Nop()).Load()
	if err == nil {
		t.Fatal("config with unknown key loaded without error")
	}
}

func TestValidateCatchesMissingAndBadValues(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"no owners", func(c *Config) { c.Telegram.OwnerUserIDs = nil }, "owner_user_ids"},
		{"no model", func(c *Config) { c.Oracle.Model = "" }, "oracle.model"},
		{"bad catch up", func(c *Config) { c.Tasks.CatchUp = "rewind" }, "catch_up"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"bad duration", func(c *Config) { c.Monitor.FetchTimeout = "20 parsecs" }, "fetch_timeout"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Config{
				Telegram: TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}},
				Oracle:   OracleConfig{Model: "m"},
			}
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestTrailingDataRejected(t *testing.T) {
	t.Parallel()
	_, err := NewManager(writeFile(t, "aide.json", jsonConfig+"{}"), logx.Nop()).Load()
	if err == nil {
		t.Fatal("trailing JSON accepted")
	}
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 10s "); err != nil || d.Seconds() != 10 {
		t.Fatalf("ParseDurationField = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || d.Seconds() != 5 {
		t.Fatalf("ParseDurationOrDefault = (%v, %v)", d, err)
	}
}
