// Package ads rotates advertisements across groups.
//
// Each group has its own cadence (GroupAdSettings). A periodic tick walks the
// active groups, sends the next ad to every group that is due and records the
// rotation position. Sends go through the rate limiter and the resilience
// executor before reaching the chat client.
package ads
