// Package configs provides embedded configuration templates for rumahcari.
//
// Templates are embedded at build time using Go's //go:embed directive so
// they ship inside the binary regardless of how it was installed.
//
// The templates are used by:
//   - cmd/rumahcari/cmd/init.go - creates rumahcari.yaml in the working directory
//   - cmd/rumahcari/cmd/config.go - creates the user config at ~/.config/rumahcari/config.yaml
//
// Configuration hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/rumahcari/config.yaml)
//  3. Project config (rumahcari.yaml)
//  4. Environment variables (RUMAHCARI_*)
//
// To modify templates, edit the .yaml files in this directory and rebuild.
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration.
// Created by: `rumahcari config init` at ~/.config/rumahcari/config.yaml
// Contains: machine-specific settings such as provider endpoints and API keys.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for deployment-level configuration.
// Created by: `rumahcari init` as rumahcari.yaml in the working directory
// Contains: deployment-specific settings such as retrieval tuning, sync
// cadence, and the data directory.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
