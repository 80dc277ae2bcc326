package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ManagerProvider retrieves the restore category from the core management
// API. The payload is the same JSON document kept in the local cache file.
type ManagerProvider struct {
	BaseURL string // e.g. http://127.0.0.1:8081
	Client  *http.Client
}

func (p ManagerProvider) Retrieve() (Config, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	url := strings.TrimRight(p.BaseURL, "/") + "/fledge/category/restore"
	resp, err := client.Get(url)
	if err != nil {
		return Config{}, fmt.Errorf("configuration manager unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Config{}, fmt.Errorf("configuration manager returned %s", resp.Status)
	}
	var cfg Config
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode configuration category: %w", err)
	}
	return cfg, nil
}
