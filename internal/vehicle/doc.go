// Package vehicle implements the vehicle property link for cabin audio.
//
// This package provides connectivity to the vehicle property daemon
// (vpd), the head unit's gateway to the vehicle bus. It exposes the
// audio-related vehicle properties as a typed HAL the volume
// coordinator can drive.
//
// # Architecture
//
// The link sits between the coordinator and the vehicle bus:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│     Volume      │  events  │  Vehicle Link   │   vpd
//	│   Coordinator   │◄────────►│   (this pkg)    │◄────────► Vehicle Bus
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Connect to vpd via Unix socket or TCP with auto-reconnect
//   - Fetch the property config table and claim the audio properties
//   - Typed volume, limit and context reads/writes
//   - Translate property events into coordinator listener callbacks
//   - Surface hardware volume key presses
//   - Publish link health status and metrics
//
// # Properties
//
// vpd addresses values by (property, area) pairs. The audio properties
// live in the vendor range: volume (0x0A01, area = hardware volume
// target), volume limit (0x0A02), focused context (0x0A03), hardware
// key input (0x0A10). The volume property's config words carry the
// capability flags and the supported context mask.
//
// Example:
//
//	client, err := vehicle.Connect(ctx, vehicle.Config{Connection: "unix:///run/vpd"})
//	if err != nil {
//	    return err
//	}
//	hal, err := vehicle.Attach(ctx, client, logger)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(hal.SupportsVolume())
//
// # Framing
//
// Frames are length-prefixed: size(2, big-endian) + type(2) + payload,
// where the size field counts type and payload only. Oversized frames
// are treated as protocol desync and force a reconnect.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
// Property events are delivered from a single worker goroutine in
// arrival order.
package vehicle
