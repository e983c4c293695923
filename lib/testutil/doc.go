// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// The channel helpers (RequireReceive, RequireClosed, RequireNoReceive)
// encapsulate the timeout safety valve pattern for asynchronous
// assertions, so individual tests never hang forever on a channel that
// a bug left unsignaled.
package testutil
