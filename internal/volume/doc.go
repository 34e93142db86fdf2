// Package volume implements cabin audio volume coordination.
//
// This package owns the mapping from logical audio streams to car audio
// contexts and hardware channels, tracks per-stream volume against the
// limits the vehicle reports, and keeps the hardware, observers, and
// callers consistent without ever running I/O under its lock.
//
// # Architecture
//
//	           API / MQTT / keys                vehicle events
//	                  │                                │
//	                  ▼                                ▼
//	┌───────────────────────────────────────────────────────────┐
//	│                       Coordinator                         │
//	│   volumes · limits · focused context   (single mutex)     │
//	└──────────────────────────┬────────────────────────────────┘
//	                           │ enqueue (FIFO)
//	                           ▼
//	┌───────────────────────────────────────────────────────────┐
//	│                 Dispatcher (one worker)                   │
//	│     hardware pushes → AudioHAL                            │
//	│     volume broadcasts → registered observers              │
//	└───────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Controller: the client-facing volume surface. NewController picks
//     the implementation from hardware capabilities: a Coordinator when
//     the vehicle audio module controls volume, a pass-through to the
//     platform audio service when it does not.
//   - Coordinator: serialises all state changes behind one mutex and
//     hands every side effect (hardware push, observer broadcast) to
//     the Dispatcher, preserving enqueue order.
//   - Dispatcher: single background worker draining a strictly FIFO
//     update queue. A failing hardware push is logged and dropped; the
//     stored value stays and the next focus change resynchronises.
//   - RoutingPolicy: context to physical output channel table.
//
// # Usage
//
//	ctrl, err := volume.NewController(volume.Options{
//	    HAL:    hal,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := ctrl.Start(ctx); err != nil {
//	    return err
//	}
//	defer ctrl.Stop()
//
//	ctrl.SetStreamVolume(volume.StreamMedia, 12, volume.FlagShowUI)
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Observer callbacks
// and hardware writes run on the dispatcher goroutine, never under the
// coordinator mutex.
package volume
