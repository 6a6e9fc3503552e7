package config

import (
	"fmt"
	"net"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// loadLua evaluates a config.lua in the classic global-assignment style and
// copies the recognised globals over cfg. Unknown globals are ignored so an
// existing game server config can be pointed at directly.
func loadLua(path string, cfg *Config) error {
	vm := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer vm.Close()
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.TabLibName, lua.OpenTable},
	} {
		vm.Push(vm.NewFunction(lib.fn))
		vm.Push(lua.LString(lib.name))
		vm.Call(1, 0)
	}

	if err := vm.DoFile(path); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	g := luaGlobals{vm: vm}
	g.str("serverName", &cfg.Server.Name)
	g.str("ip", &cfg.Server.IP)
	g.str("motd", &cfg.Server.MOTD)
	g.str("proxyFile", &cfg.Server.ProxyFile)
	g.port("gameProtocolPort", &cfg.Server.GamePort)
	g.port("liveCastPort", &cfg.Server.LiveCastPort)
	g.port("clientVersionMin", &cfg.Login.VersionMin)
	g.port("clientVersionMax", &cfg.Login.VersionMax)
	g.str("clientVersionStr", &cfg.Login.VersionStr)
	g.boolean("freePremium", &cfg.Login.FreePremium)
	g.boolean("enableLiveCasting", &cfg.Login.EnableLiveCasting)
	g.str("rsaKeyFile", &cfg.Login.RSAKeyFile)
	g.str("databaseDriver", &cfg.Database.Driver)
	g.str("databaseDSN", &cfg.Database.DSN)

	var loginPort uint16
	if g.port("loginProtocolPort", &loginPort) {
		host, _, err := net.SplitHostPort(cfg.Network.BindAddress)
		if err != nil {
			host = "0.0.0.0"
		}
		cfg.Network.BindAddress = net.JoinHostPort(host, strconv.Itoa(int(loginPort)))
	}
	return g.err
}

type luaGlobals struct {
	vm  *lua.LState
	err error
}

func (g *luaGlobals) str(name string, dst *string) {
	switch v := g.vm.GetGlobal(name).(type) {
	case lua.LString:
		*dst = string(v)
	case *lua.LNilType:
	default:
		g.fail(name, "string", v)
	}
}

// port reads a number global into a uint16 and reports whether it was set.
func (g *luaGlobals) port(name string, dst *uint16) bool {
	switch v := g.vm.GetGlobal(name).(type) {
	case lua.LNumber:
		if v < 0 || v > 65535 {
			g.fail(name, "number in 0..65535", v)
			return false
		}
		*dst = uint16(v)
		return true
	case *lua.LNilType:
	default:
		g.fail(name, "number", v)
	}
	return false
}

func (g *luaGlobals) boolean(name string, dst *bool) {
	switch v := g.vm.GetGlobal(name).(type) {
	case lua.LBool:
		*dst = bool(v)
	case lua.LString:
		// older configs quote booleans: "yes", "no", "0", "false"...
		*dst = booleanString(string(v))
	case *lua.LNilType:
	default:
		g.fail(name, "boolean", v)
	}
}

// booleanString is false for "" and for anything starting with f, n or 0.
func booleanString(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case 'f', 'F', 'n', 'N', '0':
		return false
	}
	return true
}

func (g *luaGlobals) fail(name, want string, got lua.LValue) {
	if g.err == nil {
		g.err = fmt.Errorf("config global %s: want %s, got %s", name, want, got.Type())
	}
}
