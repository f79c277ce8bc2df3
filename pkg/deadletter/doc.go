// Package deadletter provides sinks for messages the delivery worker gave up
// on: a structured log sink and a Kafka topic sink. The Kafka sink is wrapped
// in a circuit breaker so an unreachable broker fails fast.
package deadletter
