package socketpool

// Handler maps a decoded request to its response.
// Implementations must not perform I/O; the session owns the socket.
type Handler interface {
	Handle(msg ClientMessage) ServerMessage
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(msg ClientMessage) ServerMessage

// Handle calls f(msg).
func (f HandlerFunc) Handle(msg ClientMessage) ServerMessage {
	return f(msg)
}

// EchoAddHandler answers Echo with the same bytes and Add with the wrapped 32-bit sum.
type EchoAddHandler struct{}

// Handle implements Handler.
func (EchoAddHandler) Handle(msg ClientMessage) ServerMessage {
	switch m := msg.(type) {
	case Echo:
		return EchoResponse{Content: m.Content}
	case Add:
		// int32 addition wraps in Go.
		return AddResponse{Sum: m.A + m.B}
	default:
		// Unreachable for messages produced by the codec.
		panic("socketpool: unhandled client message")
	}
}
