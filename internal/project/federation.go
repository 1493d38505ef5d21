package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// Format is a federation config file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from the file extension. .json and
// .jsonc are JSON; .yaml and .yml are YAML.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported federation config extension %q", filepath.Ext(path))
	}
}

// ParseFederationConfig decodes a federation config. YAML is converted
// to JSON first so both formats share the remote decoding rules.
func ParseFederationConfig(data []byte, format Format) (*ze.FederationConfig, error) {
	var raw []byte
	switch format {
	case FormatJSON:
		raw = jsonc.ToJSON(data)
	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
		var err error
		if raw, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("converting yaml to json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	var cfg ze.FederationConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing federation config: %w", err)
	}
	return &cfg, nil
}

// ReadFederationConfig reads a federation config file.
func ReadFederationConfig(path string) (*ze.FederationConfig, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err := ParseFederationConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// WriteFederationConfig writes cfg as indented JSON, or as YAML when
// path has a YAML extension.
func WriteFederationConfig(path string, cfg *ze.FederationConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding federation config: %w", err)
	}

	if format, _ := FormatFromPath(path); format == FormatYAML {
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("converting to yaml: %w", err)
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
	} else {
		data = append(data, '\n')
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
