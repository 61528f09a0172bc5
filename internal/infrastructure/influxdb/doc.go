// Package influxdb records mixer level history in InfluxDB v2.
//
// Each observed level change becomes one point in the mixer_level
// measurement, tagged with bus and channel ("master" for bus faders), so
// a dashboard can show how a musician's mix moved through a show. Engine
// counters are written to mixer_stats by the health reporter.
//
// Writes are non-blocking and batched by the official client. Write
// failures arrive asynchronously through the SetOnError callback.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history not configured
//	}
//	defer client.Close()
//
//	client.WriteLevel(2, &channel, 0.75, time.Now())
package influxdb
