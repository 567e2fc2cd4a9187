package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type format string

const (
	formatJSON format = "json"
	formatYAML format = "yaml"
)

func formatFor(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	}
	return formatJSON
}

// Decode parses a config file body. The format follows the extension
// (.yaml/.yml, otherwise JSON). Both go through the same strict JSON
// decoder, so unknown keys and trailing documents fail in either format.
func Decode(path string, data []byte) (*Config, error) {
	f := formatFor(path)
	if f == formatYAML {
		var err error
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("yaml config: %w", err)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%s config: %w", f, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s config: trailing data after document", f)
	}
	return cfg, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	out, err := stringKeys(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// stringKeys rebuilds YAML maps with string keys; encoding/json rejects
// map[any]any, which yaml produces for non-string keys.
func stringKeys(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			nv, err := stringKeys(val)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			ks := fmt.Sprint(k)
			if _, dup := out[ks]; dup {
				return nil, fmt.Errorf("duplicate key %q", ks)
			}
			nv, err := stringKeys(val)
			if err != nil {
				return nil, err
			}
			out[ks] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			nv, err := stringKeys(val)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	}
	return v, nil
}
