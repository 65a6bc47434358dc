// Package relay copies every inbound Feishu event to external subscribers.
//
// Each call to Send encodes one envelope
//
//	{"type": "event", "event_type": "im.message.receive_v1", "timestamp": 1700000000000, "payload": {...}}
//
// and delivers it to every sink concurrently. Sinks are webhook URLs
// (HTTPSink) and optionally a Redis stream (RedisSink). A slow or failing
// sink never delays another one or the caller. Deliveries are not retried.
package relay
