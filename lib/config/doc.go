// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Loom services.
//
// Configuration comes from a single YAML file at an explicit path:
// no search paths, no automatic discovery, no hidden overrides. The
// file may contain environment sections (development, staging,
// production) whose values replace base values when the configured
// environment matches. This keeps deployed configuration deterministic
// and auditable.
package config
