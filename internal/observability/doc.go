// Package observability provides the logger, the domain event log and the
// metrics and health checks derived from it. Events are persisted as JSON
// Lines; metrics are calculated on demand from the log.
package observability
