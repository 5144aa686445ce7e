// Package audit buffers security events and relays them to a Sink off the
// request path.
//
// Sinks: [ChannelSink], [JSONWriterSink], [ZapSink] and [NoOpSink]. The
// [Dispatcher] either drops events when its buffer is full or blocks the
// caller until there is room, depending on Config.DropIfFull.
//
// The package does not decide which events to emit. It must not import the
// root package or any sibling internal package.
package audit
