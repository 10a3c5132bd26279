package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stevenijones/reactcarwashsim/internal/params"
)

// LoadParamsFile reads a local JSON object of run parameters and returns the
// raw text for each field it names. Values may be JSON numbers or strings;
// strings are kept verbatim so the inputs show exactly what the file holds.
func LoadParamsFile(path string) (map[params.Field]string, string, error) {
	rawPath := strings.TrimSpace(path)
	if rawPath == "" {
		return nil, "", fmt.Errorf("params file path is required")
	}
	if strings.Contains(rawPath, "://") {
		return nil, "", fmt.Errorf("only local filesystem paths are supported")
	}

	resolvedPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, "", fmt.Errorf("resolve params path %q: %w", rawPath, err)
	}

	blob, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, resolvedPath, fmt.Errorf("read params file %q: %w", resolvedPath, err)
	}

	values, err := parseParamsJSON(blob)
	if err != nil {
		return nil, resolvedPath, fmt.Errorf("parse params JSON %q: %w", resolvedPath, err)
	}
	return values, resolvedPath, nil
}

func parseParamsJSON(blob []byte) (map[params.Field]string, error) {
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.UseNumber()

	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return nil, err
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("params JSON must be a top-level object")
	}

	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	values := make(map[params.Field]string, len(obj))
	for _, key := range keys {
		field, err := params.ParseField(key)
		if err != nil {
			return nil, err
		}
		switch v := obj[key].(type) {
		case json.Number:
			values[field] = v.String()
		case string:
			values[field] = v
		default:
			return nil, fmt.Errorf("%s must be a number or string", key)
		}
	}
	return values, nil
}

// applyParams writes values into the store, skipping fields it does not name.
func applyParams(store *params.Store, values map[params.Field]string) error {
	for _, field := range params.Fields {
		raw, ok := values[field]
		if !ok {
			continue
		}
		if err := store.Set(field, raw); err != nil {
			return err
		}
	}
	return nil
}
