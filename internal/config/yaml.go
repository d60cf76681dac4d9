package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

// Format is the on-disk encoding of a config file, chosen by extension.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// coerceToJSONBytes converts YAML or TOML to JSON so one strict JSON decoder
// (DisallowUnknownFields) serves every format.
func coerceToJSONBytes(path string, data []byte) ([]byte, Format, error) {
	f := formatOf(path)
	var v any
	switch f {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, f, fmt.Errorf("yaml unmarshal: %w", err)
		}
	case FormatTOML:
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, f, fmt.Errorf("toml unmarshal: %w", err)
		}
		v = m
	default:
		return data, f, nil
	}
	j, err := json.Marshal(normalizeTree(v))
	if err != nil {
		return nil, f, fmt.Errorf("%s->json marshal: %w", f, err)
	}
	return j, f, nil
}

// normalizeTree makes every map key a string so the tree is JSON-marshalable.
func normalizeTree(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeTree(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeTree(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeTree(x[i])
		}
		return x
	default:
		return in
	}
}

// encodeTree renders a JSON-compatible tree in the given format.
func encodeTree(f Format, tree any) ([]byte, error) {
	switch f {
	case FormatYAML:
		return yaml.Marshal(tree)
	case FormatTOML:
		return toml.Marshal(tree)
	default:
		b, err := json.MarshalIndent(tree, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
}
