// Package relay carries mixer change events to the outside world.
//
// The engine accepts a single change listener. A Fanout fills that slot
// and hands every event to its sinks in order:
//
//   - the WebSocket hub (api.Server.BroadcastChange)
//   - MQTTSink, retained state per send level and bus master
//   - InfluxSink, level history points
//
// Sinks must not block. MQTTSink queues events and publishes from its
// own goroutine, dropping when the queue is full.
//
// CommandHandler is the inbound direction: level commands published to
// {prefix}/command/bus/{b}/channel/{c} become SetChannelLevel calls.
//
// HealthReporter publishes a retained health message every 30 seconds
// and writes the engine counters to InfluxDB.
package relay
