/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries the build version stamped into the binary.
package version

// Version is the current version of the planner.
// This is set at build time via ldflags:
//
//	-X github.com/jonyboev-wq/calendarv2/internal/version.Version=X.Y.Z
var Version = "0.3.0"
