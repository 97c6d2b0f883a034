// Copyright (c) Memeflow Authors.
// Licensed under the MIT License.

/*
Package pipeline orchestrates meme generation behind the safety gate.

A request moves through four stages: validation, generation, moderation
and decision. Generation and moderation both run behind a retryer with
exponential backoff. Moderation failures fail closed: content that
could not be analyzed is never returned. Every decision, approved or
rejected, is appended to the audit log before the response is
assembled.

The pipeline itself is transport-agnostic. The HTTP layer in
internal/server and the offline evaluation runner both drive it through
[Pipeline.Handle].
*/
package pipeline
