package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	errs "github.com/Neil2813/Nexus/errors"
)

// Limits applied to untrusted configuration input.
const (
	maxLayerSize   = 1 << 20
	maxJSONDepth   = 32
	maxEnvValueLen = 4096
	maxPathLen     = 4096
)

var layerExtensions = map[string]bool{".json": true, ".yaml": true, ".yml": true}

// checkLayerPath rejects paths with an unknown extension and relative paths
// that leave the working directory.
func checkLayerPath(path string) error {
	switch {
	case path == "":
		return errors.New("empty config path")
	case len(path) > maxPathLen:
		return fmt.Errorf("config path longer than %d bytes", maxPathLen)
	case !layerExtensions[strings.ToLower(filepath.Ext(path))]:
		return fmt.Errorf("%s: only .json, .yaml and .yml layers are supported", path)
	case filepath.IsAbs(path):
		return nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	rel, err := filepath.Rel(cwd, filepath.Join(cwd, path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s resolves outside the working directory", path)
	}
	return nil
}

// readLayer reads one config file, refusing anything but a regular file of
// at most maxLayerSize bytes.
func readLayer(path string) ([]byte, error) {
	if err := checkLayerPath(path); err != nil {
		return nil, errs.WrapInvalid(fmt.Errorf("%w: %w", errs.ErrInvalidConfig, err), "config", "readLayer", "check path")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errs.WrapInvalid(err, "config", "readLayer", "open "+path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.WrapInvalid(err, "config", "readLayer", "stat "+path)
	}
	if !info.Mode().IsRegular() {
		return nil, errs.WrapInvalid(errs.ErrInvalidConfig, "config", "readLayer", path+" is not a regular file")
	}

	data, err := io.ReadAll(io.LimitReader(f, maxLayerSize+1))
	if err != nil {
		return nil, errs.WrapInvalid(err, "config", "readLayer", "read "+path)
	}
	if len(data) > maxLayerSize {
		return nil, errs.WrapInvalid(errs.ErrInvalidConfig, "config", "readLayer",
			fmt.Sprintf("%s exceeds %d bytes", path, maxLayerSize))
	}
	return data, nil
}

// checkEnvValue rejects oversized values and embedded NUL bytes.
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvValueLen {
		return fmt.Errorf("%s: value longer than %d bytes", key, maxEnvValueLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s: value contains a NUL byte", key)
	}
	return nil
}

// validateJSONDepth walks the token stream and fails once arrays and
// objects nest deeper than maxJSONDepth, before the document is decoded.
func validateJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("malformed JSON: %w", err)
		}
		d, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch d {
		case '{', '[':
			if depth++; depth > maxJSONDepth {
				return fmt.Errorf("JSON nests deeper than %d levels", maxJSONDepth)
			}
		case '}', ']':
			depth--
		}
	}
	if depth != 0 {
		return errors.New("malformed JSON: unterminated object or array")
	}
	return nil
}
