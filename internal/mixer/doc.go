// Package mixer implements the synchronisation engine for XR18-class
// digital mixers.
//
// The engine owns the OSC-over-UDP session with the mixer, keeps a local
// mirror of every channel-to-bus send level, bus master fader and display
// name, and notifies a single listener whenever a level moves by more than
// NoiseThreshold.
//
// # Architecture
//
//	┌──────────────┐  ChangeEvent  ┌──────────────┐   OSC/UDP   ┌───────┐
//	│ API / Relay  │◄──────────────│    Engine    │◄───────────►│ XR18  │
//	│              │──────────────►│  (this pkg)  │  :10025 in  │       │
//	└──────────────┘ Set*/Snapshot └──────────────┘  :10024 out └───────┘
//
// The mixer gives no acknowledgement for writes and answers requests
// asynchronously, so every read is "request, wait SnapshotWait, read the
// cache". State transitions are idempotent and keyed by address, which
// makes lost or reordered datagrams self-correcting on the next poll.
//
// # Polling
//
// Three kinds of timer run while connected:
//
//   - keep-alive: /xremote and /info every KeepAliveInterval
//   - general poll: every cell, master and name, at low frequency
//   - active poll: one bus at high frequency, only while someone watches it
//
// Both level polls are suspended when the mixer has never answered and
// the GraceWindow since connect has passed.
//
// # Levels
//
// All levels are device units in [0, 1]. No UI range mapping is applied.
//
// # Thread Safety
//
// All exported methods on Engine are safe for concurrent use.
package mixer
