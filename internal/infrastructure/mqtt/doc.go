// Package mqtt provides MQTT client connectivity for the cabin audio
// coordinator.
//
// This package manages:
//   - Connection to the vehicle broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the cabin message bus connecting the coordinator to the
// platform media daemon and to head unit clients. The broker decouples
// the coordinator from its peers.
//
//	Cabin Audio Coordinator ↔ MQTT Broker ↔ Media Daemon / Head Unit
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for bench rigs
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all media daemon stream states
//	err = client.Subscribe(mqtt.Topics{}.AllMediaVolumeStates(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a volume state update
//	topic := mqtt.Topics{}.VolumeState("media")
//	client.Publish(topic, []byte(`{"stream":"media","volume":12}`), 1, true)
package mqtt
