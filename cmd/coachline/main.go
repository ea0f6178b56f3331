// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command coachline runs the coaching chat proxy and terminal client.
//
// Build with version information:
//
//	go build -ldflags "-X github.com/morganforge/coachline/internal/cli.Version=1.0.0 \
//	  -X github.com/morganforge/coachline/internal/cli.Commit=$(git rev-parse --short HEAD)" \
//	  ./cmd/coachline
package main

import (
	"os"

	"github.com/morganforge/coachline/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
