// Copyright (c) Memeflow Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type contracts of the memeflow service.

types is the lowest-level common package and depends on no other internal
package. It defines the unified error model consumed by the upstream
clients, the retry layer and the pipeline:

  - ErrorCode — stable machine-readable codes (INVALID_REQUEST,
    UPSTREAM_TIMEOUT, GENERATION_FAILED, ...)
  - Error     — structured error with Retryable flag and wrapped cause

The Retryable flag is the single signal the retry layer uses to decide
whether an upstream failure is transient.
*/
package types
