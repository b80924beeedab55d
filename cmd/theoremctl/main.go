// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command theoremctl is the terminal client for the theorem library catalog.
//
// It talks to the catalog's REST surface for submissions, status queries,
// dependency inspection, and re-tests, and to the websocket event stream for
// live status watching. The server address comes from --server or the
// THEOREMLIB_CATALOG_URL environment variable.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already printed the error; exit nonzero for scripts.
		os.Exit(1)
	}
}
