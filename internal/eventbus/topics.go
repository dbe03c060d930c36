package eventbus

// Event types published inside the bot.
const (
	TopicCircuit          = "resilience.circuit"
	TopicAdSent           = "ads.sent"
	TopicAdFailed         = "ads.failed"
	TopicGroupDeactivated = "group.deactivated"
	TopicConfigReloaded   = "config.reloaded"
)

// CircuitChange is the payload of TopicCircuit.
type CircuitChange struct {
	Name string
	From string
	To   string
}

// AdDelivery is the payload of TopicAdSent and TopicAdFailed.
type AdDelivery struct {
	ChatID int64
	AdID   int64
	Tick   string
	Err    string
}

// ConfigChange is the payload of TopicConfigReloaded.
type ConfigChange struct {
	Sections []string
	// Restart lists changed settings that wait for a process restart.
	Restart []string
}
