// Package vpd provides management of the vpd daemon process.
//
// vpd (vehicle platform daemon) is the interface between the coordinator
// and the cabin audio hardware. This package manages vpd as a subprocess
// of the coordinator, providing:
//
//   - Configuration-driven startup (socket or TCP endpoint from YAML)
//   - Automatic restart on failure
//   - Health monitoring
//   - Graceful shutdown coordination
//
// The vpd process is started with command-line arguments derived from the
// coordinator's YAML configuration, so bench rigs and test images do not
// need a separately provisioned platform service.
//
// Example configuration (in config.yaml):
//
//	vehicle:
//	  connection: "unix:///run/vpd"
//	vpd:
//	  managed: true
//	  binary: "/usr/bin/vpd"
//	  restart_on_failure: true
//
// Production images normally run vpd as a platform service and leave
// managed off; the coordinator then only dials the configured endpoint.
package vpd
