// Package influxdb records forwarding outcomes as InfluxDB time series.
//
// It wraps the official influxdb-client-go v2 library. Every inbound message
// becomes a point in the "forwarder_messages" measurement tagged with its
// topic, destination table and outcome. The broker client id is added as a
// default tag so several forwarders can share one bucket.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Broker.ClientID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.MessageForwarded("sensors/temp", "temp_readings", 3*time.Millisecond)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; write errors
// are delivered to the callback set with SetOnError.
package influxdb
