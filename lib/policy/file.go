// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/tidwall/jsonc"
)

// policyFile is the on-disk shape. Absent fields fall back to the
// built-in default; present-but-empty lists are honored as explicitly
// empty.
type policyFile struct {
	AllowedTools         []string `json:"allowed_tools"`
	ReadOnlyTools        []string `json:"readonly_tools"`
	BlockedShellPatterns []string `json:"blocked_shell_patterns"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result over the built-in default.
func Parse(data []byte) (*Policy, error) {
	stripped := jsonc.ToJSON(data)

	var file policyFile
	if err := json.Unmarshal(stripped, &file); err != nil {
		return nil, fmt.Errorf("policy: parsing: %w", err)
	}

	parsed := Default()
	if file.AllowedTools != nil {
		parsed.AllowedTools = file.AllowedTools
	}
	if file.ReadOnlyTools != nil {
		parsed.ReadOnlyTools = file.ReadOnlyTools
	}
	if file.BlockedShellPatterns != nil {
		parsed.BlockedShellPatterns = file.BlockedShellPatterns
	}
	return parsed, nil
}

// Load reads a JSONC policy file from disk.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: reading %s: %w", path, err)
	}
	parsed, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return parsed, nil
}

// LoadOrDefault loads the policy file at path, returning the built-in
// default when the file does not exist. Used for the implicit
// state-dir location, where absence just means "not customized".
func LoadOrDefault(path string) (*Policy, error) {
	loaded, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return loaded, nil
}
