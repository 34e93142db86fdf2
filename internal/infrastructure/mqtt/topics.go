package mqtt

import "fmt"

// Topic prefixes for the cabin audio MQTT surface.
//
// Service topics use the flat scheme: cabinaudio/{category}/{...}.
// The platform media daemon (mediad) has its own prefix; it owns
// software volume when the vehicle hardware does not, and this service
// mirrors its state and forwards commands to it.
const (
	// TopicPrefix is the base for all cabin audio topics.
	TopicPrefix = "cabinaudio"

	// TopicPrefixSystem is the base for service lifecycle topics.
	TopicPrefixSystem = "cabinaudio/system"

	// TopicPrefixMedia is the base for the platform media daemon's topics.
	TopicPrefixMedia = "mediad"
)

// Topics provides builders for cabin audio MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.VolumeState("media")
//	// Returns: "cabinaudio/volume/state/media"
type Topics struct{}

// =============================================================================
// Volume Topics
// =============================================================================

// VolumeState returns the retained state topic for a logical stream.
//
// Example: cabinaudio/volume/state/media
func (Topics) VolumeState(stream string) string {
	return fmt.Sprintf("%s/volume/state/%s", TopicPrefix, stream)
}

// VolumeCommand returns the topic for volume commands to this service.
//
// Example: cabinaudio/volume/command
func (Topics) VolumeCommand() string {
	return fmt.Sprintf("%s/volume/command", TopicPrefix)
}

// VehicleHealth returns the topic for vehicle property link health.
//
// Example: cabinaudio/vehicle/health
func (Topics) VehicleHealth() string {
	return fmt.Sprintf("%s/vehicle/health", TopicPrefix)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the service status topic. Online, offline and
// LWT payloads all land here, retained.
//
// Example: cabinaudio/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Media Daemon Topics
// =============================================================================

// MediaVolumeState returns the media daemon's retained state topic for
// a logical stream.
//
// Example: mediad/volume/state/media
func (Topics) MediaVolumeState(stream string) string {
	return fmt.Sprintf("%s/volume/state/%s", TopicPrefixMedia, stream)
}

// MediaVolumeCommand returns the command topic for the media daemon.
//
// Example: mediad/volume/command
func (Topics) MediaVolumeCommand() string {
	return fmt.Sprintf("%s/volume/command", TopicPrefixMedia)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllVolumeStates returns a pattern matching every stream state topic.
//
// Pattern: cabinaudio/volume/state/+
func (Topics) AllVolumeStates() string {
	return fmt.Sprintf("%s/volume/state/+", TopicPrefix)
}

// AllMediaVolumeStates returns a pattern matching every media daemon
// stream state topic.
//
// Pattern: mediad/volume/state/+
func (Topics) AllMediaVolumeStates() string {
	return fmt.Sprintf("%s/volume/state/+", TopicPrefixMedia)
}

// AllTopics returns a pattern matching all cabin audio topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: cabinaudio/#
func (Topics) AllTopics() string {
	return "cabinaudio/#"
}
