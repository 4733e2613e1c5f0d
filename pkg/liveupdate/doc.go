// Package liveupdate implements the client side of the registry streams: a
// reconnecting channel that follows one topic at a time.
//
// A [Channel] is a small state machine driven by a single goroutine:
//
//	idle ──Connect──▶ pending ──delay──▶ open
//	  ▲                  ▲                │
//	  └──Close/Destroy───┴──transport err─┘ (backoff)
//
// Connect delays the actual dial by [Options.ConnectDelay] so that rapid
// topic switches never open short-lived connections. When the server ends a
// stream on its own (its TTL elapsed) the channel reopens at once. Transport
// failures reopen after a backoff that doubles from [Options.MinBackoff] to
// [Options.MaxBackoff]. An explicit Close or Destroy never reopens, and a
// destroyed channel ignores Connect until Activate is called.
//
// Every received event is decoded as JSON into the channel's message type and
// handed to the callback. Malformed events are logged and dropped.
package liveupdate
