// Package notifications publishes run summaries and failures to ntfy.
//
// The topic comes from the [notifications] section of config.toml. When no
// topic is configured NewService returns a no-op implementation, so callers
// never need to check whether notifications are enabled.
package notifications
