// Copyright (c) Memeflow Authors.
// Licensed under the MIT License.

/*
Package main is the memeflow server entrypoint.

Subcommands:

  - serve    — start the HTTP API with audit logging and metrics
  - evaluate — run the offline safety and quality evaluation suite
  - version  — print build information
  - health   — probe a running server's /healthz endpoint

Configuration loads from defaults, then an optional YAML file, then
MEMEFLOW_* environment variables. Build metadata (Version, BuildTime,
GitCommit) is injected via ldflags.
*/
package main
