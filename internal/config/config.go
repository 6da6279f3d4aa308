// Package config loads the enumerated node configuration from a JSON
// file named by a --config flag: the file is read in full, unmarshaled,
// and any failure is fatal to startup.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"time"
)

// Config enumerates every configuration key this service reads.
type Config struct {
	NodeName        string        `json:"nodename"`
	DDFSRoot        string        `json:"ddfs_root"`
	DiscoRoot       string        `json:"disco_root"`
	PutMax          int           `json:"put_max"`
	GetMax          int           `json:"get_max"`
	PutPort         int           `json:"put_port"`
	GetPort         int           `json:"get_port"`
	PutEnabled      bool          `json:"put_enabled"`
	GetEnabled      bool          `json:"get_enabled"`
	HTTPQueueLength int           `json:"http_queue_length"`
	DiskInterval    time.Duration `json:"disk_interval_seconds"`
	TagInterval     time.Duration `json:"tag_interval_seconds"`
	NodeStartup     time.Duration `json:"node_startup_seconds"`
}

// jsonConfig mirrors Config but with plain-second integer fields, since
// encoding/json cannot unmarshal a bare number into a time.Duration
// without help.
type jsonConfig struct {
	NodeName        string `json:"nodename"`
	DDFSRoot        string `json:"ddfs_root"`
	DiscoRoot       string `json:"disco_root"`
	PutMax          int    `json:"put_max"`
	GetMax          int    `json:"get_max"`
	PutPort         int    `json:"put_port"`
	GetPort         int    `json:"get_port"`
	PutEnabled      bool   `json:"put_enabled"`
	GetEnabled      bool   `json:"get_enabled"`
	HTTPQueueLength int    `json:"http_queue_length"`
	DiskInterval    int    `json:"disk_interval_seconds"`
	TagInterval     int    `json:"tag_interval_seconds"`
	NodeStartup     int    `json:"node_startup_seconds"`
}

// requiredStrings names the keys that must be non-empty after load.
var requiredStrings = []struct {
	key string
	get func(*jsonConfig) string
}{
	{"nodename", func(c *jsonConfig) string { return c.NodeName }},
	{"ddfs_root", func(c *jsonConfig) string { return c.DDFSRoot }},
}

// Load reads path, unmarshals it into a Config, and validates that every
// required key is present. A missing file, malformed JSON, or missing
// required key is returned as an error; callers are expected to treat it
// as fatal and abort startup.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer file.Close()

	bytes, err := ioutil.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var jc jsonConfig
	if err := json.Unmarshal(bytes, &jc); err != nil {
		return nil, fmt.Errorf("config: unmarshal %q: %w", path, err)
	}

	for _, req := range requiredStrings {
		if req.get(&jc) == "" {
			return nil, fmt.Errorf("config: missing required key %q in %q", req.key, path)
		}
	}

	return &Config{
		NodeName:        jc.NodeName,
		DDFSRoot:        jc.DDFSRoot,
		DiscoRoot:       jc.DiscoRoot,
		PutMax:          jc.PutMax,
		GetMax:          jc.GetMax,
		PutPort:         jc.PutPort,
		GetPort:         jc.GetPort,
		PutEnabled:      jc.PutEnabled,
		GetEnabled:      jc.GetEnabled,
		HTTPQueueLength: jc.HTTPQueueLength,
		DiskInterval:    time.Duration(jc.DiskInterval) * time.Second,
		TagInterval:     time.Duration(jc.TagInterval) * time.Second,
		NodeStartup:     time.Duration(jc.NodeStartup) * time.Second,
	}, nil
}
