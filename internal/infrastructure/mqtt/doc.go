// Package mqtt connects XR Monitor to an MQTT broker.
//
// The broker is an optional integration surface: mixer level changes are
// mirrored to retained state topics, external controllers may send level
// commands, and a health document is published periodically. The mixer
// engine never depends on the broker being reachable.
//
// # Topics
//
// All topics live under a configurable prefix (default "xrmonitor"):
//
//	xrmonitor/state/bus/{bus}/channel/{channel}    retained level state
//	xrmonitor/state/bus/{bus}/master               retained master state
//	xrmonitor/command/bus/{bus}/channel/{channel}  inbound level commands
//	xrmonitor/health                               periodic health
//	xrmonitor/system/status                        online/offline + LWT
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().BusChannelState(2, 5)
//	err = client.PublishRetained(topic, payload)
//
// Subscriptions are tracked and restored after an automatic reconnect.
// Handler panics are recovered and logged.
package mqtt
