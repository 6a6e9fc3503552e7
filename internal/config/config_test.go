package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "proxies.yaml", `
proxies:
  - id: 1
    name: Europe
    ip: 10.0.0.5
    port: 7272
`)
	path := writeFile(t, dir, "login.toml", `
[server]
name = "Antica"
ip = "192.168.1.10"
motd = "Welcome"
proxy_file = "proxies.yaml"

[login]
version_min = 1076
version_max = 1100
free_premium = true

[database]
driver = "sqlite"
dsn = "login.db"

[dispatcher]
task_timeout = "3s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Name != "Antica" || cfg.Server.IP != "192.168.1.10" || cfg.Server.MOTD != "Welcome" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Login.VersionMin != 1076 || !cfg.Login.FreePremium {
		t.Fatalf("login = %+v", cfg.Login)
	}
	if cfg.Server.GamePort != 7172 {
		t.Fatalf("default game port lost: %d", cfg.Server.GamePort)
	}
	if cfg.Dispatcher.TaskTimeout != 3*time.Second {
		t.Fatalf("task timeout = %v", cfg.Dispatcher.TaskTimeout)
	}
	p, ok := cfg.ProxyInfo(1)
	if !ok || p.Name != "Europe" || p.Port != 7272 {
		t.Fatalf("proxy = %+v, %v", p, ok)
	}
	if _, ok := cfg.ProxyInfo(0); ok {
		t.Fatalf("proxy 0 resolved")
	}
	if cfg.Server.StartTime == 0 {
		t.Fatalf("start time not set")
	}
}

func TestLoadLua(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.lua", `
serverName = "Forgotten"
ip = "127.0.0.1"
motd = "Welcome to " .. "Forgotten"
loginProtocolPort = 7171
gameProtocolPort = 7172
liveCastPort = 7173
clientVersionMin = 1097
clientVersionMax = 1098
clientVersionStr = "10.97/98"
freePremium = "yes"
enableLiveCasting = true
databaseDriver = "sqlite"
mysqlHost = "ignored"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.MOTD != "Welcome to Forgotten" {
		t.Fatalf("motd = %q", cfg.Server.MOTD)
	}
	if cfg.Network.BindAddress != "0.0.0.0:7171" {
		t.Fatalf("bind = %s", cfg.Network.BindAddress)
	}
	if cfg.Server.LiveCastPort != 7173 || cfg.Login.VersionMax != 1098 || cfg.Login.VersionStr != "10.97/98" {
		t.Fatalf("cfg = %+v %+v", cfg.Server, cfg.Login)
	}
	if !cfg.Login.FreePremium || !cfg.Login.EnableLiveCasting {
		t.Fatalf("flags = %+v", cfg.Login)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("driver = %s", cfg.Database.Driver)
	}
}

func TestLoadLuaQuotedBooleans(t *testing.T) {
	cases := map[string]bool{
		"yes":   true,
		"true":  true,
		"1":     true,
		"on":    true,
		"no":    false,
		"No":    false,
		"false": false,
		"False": false,
		"0":     false,
		"":      false,
	}
	for in, want := range cases {
		path := writeFile(t, t.TempDir(), "config.lua", "freePremium = \""+in+"\"\nenableLiveCasting = \""+in+"\"\n")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("%q: Load: %v", in, err)
		}
		if cfg.Login.FreePremium != want || cfg.Login.EnableLiveCasting != want {
			t.Fatalf("%q: freePremium=%v enableLiveCasting=%v, want %v", in, cfg.Login.FreePremium, cfg.Login.EnableLiveCasting, want)
		}
	}
}

func TestLoadLuaTypeError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.lua", `gameProtocolPort = "seven"`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "gameProtocolPort") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	cfg.Login.VersionMin = 1100
	cfg.Login.VersionMax = 1000
	cfg.Server.Name = ""
	cfg.Dispatcher.Workers = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"version_min", "server.name", "dispatcher.workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %s", err, want)
		}
	}
}

func TestLoadProxiesRejectsDuplicates(t *testing.T) {
	path := writeFile(t, t.TempDir(), "p.yaml", `
proxies:
  - {id: 2, name: a, ip: 1.1.1.1, port: 1}
  - {id: 2, name: b, ip: 2.2.2.2, port: 2}
`)
	if _, err := LoadProxies(path); err == nil {
		t.Fatalf("duplicate proxy id accepted")
	}
}
