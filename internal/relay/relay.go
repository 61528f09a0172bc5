package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// Engine is the part of mixer.Engine the relay drives.
type Engine interface {
	LevelSetter
	StatsSource
	RegisterChangeCallback(fn mixer.ChangeListener)
}

// MQTTClient publishes state and health and receives commands.
type MQTTClient interface {
	Publisher
	Subscriber
}

// InfluxWriter records level history and engine counters.
type InfluxWriter interface {
	LevelWriter
	StatsWriter
}

// Options configures a Relay. MQTT, Influx and Broadcaster are optional;
// leave them nil (untyped) when the dependency is disabled.
type Options struct {
	Engine Engine

	// Broadcaster is usually the API server's WebSocket hub.
	Broadcaster Sink

	MQTT   MQTTClient
	Topics mqtt.Topics
	QoS    byte

	Influx InfluxWriter

	Version        string
	HealthInterval time.Duration
	Logger         Logger
}

// Relay owns the fanout and the optional MQTT and InfluxDB sinks.
type Relay struct {
	engine   Engine
	fanout   *Fanout
	mqttSink *MQTTSink
	commands *CommandHandler
	health   *HealthReporter
	logger   Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds a relay. Call Start to attach it to the engine.
func New(opts Options) (*Relay, error) {
	if opts.Engine == nil {
		return nil, errors.New("relay: engine is required")
	}

	r := &Relay{
		engine: opts.Engine,
		fanout: NewFanout(opts.Logger, opts.Broadcaster),
		logger: opts.Logger,
	}

	if opts.MQTT != nil {
		r.mqttSink = NewMQTTSink(MQTTSinkConfig{
			Publisher: opts.MQTT,
			Topics:    opts.Topics,
			QoS:       opts.QoS,
			Logger:    opts.Logger,
		})
		r.fanout.Add(r.mqttSink)
		r.commands = NewCommandHandler(opts.MQTT, opts.Topics, opts.Engine, opts.Logger)
	}

	if opts.Influx != nil {
		r.fanout.Add(NewInfluxSink(opts.Influx))
	}

	healthCfg := HealthReporterConfig{
		Version:  opts.Version,
		Interval: opts.HealthInterval,
		Topics:   opts.Topics,
		Stats:    opts.Engine,
		Logger:   opts.Logger,
	}
	if opts.MQTT != nil {
		healthCfg.Publisher = opts.MQTT
	}
	if opts.Influx != nil {
		healthCfg.Writer = opts.Influx
	}
	r.health = NewHealthReporter(healthCfg)

	return r, nil
}

// Start registers the fanout as the engine's change listener and starts
// the MQTT publisher, the command subscription and health reporting. A
// failed command subscription is logged; state keeps flowing.
func (r *Relay) Start(ctx context.Context) {
	r.engine.RegisterChangeCallback(r.fanout.Listener())

	if r.mqttSink != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.mqttSink.Run(ctx)
		}()
	}
	if r.commands != nil {
		if err := r.commands.Subscribe(); err != nil && r.logger != nil {
			r.logger.Warn("level commands unavailable", "error", err)
		}
	}
	r.health.Start(ctx)

	if r.logger != nil {
		r.logger.Info("relay started", "sinks", r.fanout.Len(), "commands", r.commands != nil)
	}
}

// Stop detaches from the engine, publishes offline health and waits for
// the MQTT publisher to exit. Safe to call more than once.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		r.engine.RegisterChangeCallback(nil)

		if r.commands != nil {
			if err := r.commands.Unsubscribe(); err != nil && r.logger != nil {
				r.logger.Debug("unsubscribing level commands failed", "error", err)
			}
		}
		r.health.Stop()
		if r.mqttSink != nil {
			r.mqttSink.Stop()
		}
		r.wg.Wait()

		if r.logger != nil {
			r.logger.Info("relay stopped")
		}
	})
}

// Fanout returns the relay's fanout so more sinks can be added.
func (r *Relay) Fanout() *Fanout {
	return r.fanout
}
