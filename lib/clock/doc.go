// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Production code injects [Real]; tests inject [Fake] and advance it
// explicitly. Every component that stamps freshness times, runs a
// periodic refresh, or waits on a timeout takes a Clock instead of
// calling the time package directly. This is what makes the
// reconciliation tests deterministic: a fake clock drives the refresh
// ticker without real sleeps, and freshness stamps are exact values
// rather than "roughly now".
package clock
