// Package bot turns inbound chat updates into moderation actions and
// owner/admin commands.
//
// Updates are consumed by a small worker pool. Group messages are tracked,
// join/leave service messages and spam are deleted, and commands are
// admitted through the rate limiter before they run. Every outbound call
// takes an API slot first and goes through the resilience executor.
package bot
