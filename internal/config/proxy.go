package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Proxy is an alternate world address some accounts are routed through.
type Proxy struct {
	ID   uint16 `yaml:"id"`
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`
	Port uint16 `yaml:"port"`
}

type proxyFile struct {
	Proxies []Proxy `yaml:"proxies"`
}

// LoadProxies reads the proxy list. Id 0 is reserved for "no proxy".
func LoadProxies(path string) (map[uint16]Proxy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proxy file %s: %w", path, err)
	}
	var f proxyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse proxy file %s: %w", path, err)
	}

	out := make(map[uint16]Proxy, len(f.Proxies))
	for _, p := range f.Proxies {
		if p.ID == 0 {
			return nil, fmt.Errorf("proxy %q: id 0 is reserved", p.Name)
		}
		if _, dup := out[p.ID]; dup {
			return nil, fmt.Errorf("proxy id %d defined twice", p.ID)
		}
		out[p.ID] = p
	}
	return out, nil
}
