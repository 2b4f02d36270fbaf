// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package utoc

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// packManifestName is the optional metadata file a content pack may
// place at the top of its override root. It describes the pack; it is
// never served as content.
const packManifestName = "pack.yaml"

// PackManifest is the optional metadata of an override root.
type PackManifest struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Author      string `yaml:"author"`
	Description string `yaml:"description"`
}

// readPackManifest loads the pack manifest from an override root.
// A missing manifest is not an error; a malformed one is, so the
// caller can decide whether to reject the root or register it without
// metadata.
func readPackManifest(dir string) (*PackManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, packManifestName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pack manifest: %w", err)
	}

	var m PackManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse pack manifest: %w", err)
	}
	return &m, nil
}
