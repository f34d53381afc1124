// Package remediation provides the business boundary for Remedy's
// agent-restart orchestration. It defines the Service (rate limiting, per-host
// dedup, retry/backoff lifecycle, async dispatch), the Store interface
// (persistence), request validation, and domain models.
package remediation
