// Package mail queues outbound e-mail and delivers it in the background.
//
// Producers call Service.Post, which validates the message and appends it to
// a Queue without waiting for the network. A single Worker goroutine takes
// messages from the queue and hands them to a Transport. Failed messages are
// put back at the tail of the queue after a fixed backoff, so one bad
// message never blocks the ones behind it.
package mail
