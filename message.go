package socketpool

// Tag identifies a message variant on the wire. It is the first byte of every frame.
type Tag byte

// Wire tags. Client-to-server tags have the high bit clear, server-to-client tags have it set.
const (
	TagEcho         Tag = 0x01
	TagAdd          Tag = 0x02
	TagEchoResponse Tag = 0x81
	TagAddResponse  Tag = 0x82
)

func (t Tag) String() string {
	switch t {
	case TagEcho:
		return "Echo"
	case TagAdd:
		return "Add"
	case TagEchoResponse:
		return "EchoResponse"
	case TagAddResponse:
		return "AddResponse"
	default:
		return "Unknown"
	}
}

// ClientMessage is a request sent by a client.
// The set of implementations is closed: Echo and Add.
type ClientMessage interface {
	// Tag returns the wire tag of the message.
	Tag() Tag
	clientMessage()
}

// ServerMessage is a response sent by the server.
// The set of implementations is closed: EchoResponse and AddResponse.
type ServerMessage interface {
	// Tag returns the wire tag of the message.
	Tag() Tag
	serverMessage()
}

// Echo asks the server to send Content back unchanged.
type Echo struct {
	Content []byte
}

// Add asks the server for the 32-bit sum of A and B.
type Add struct {
	A, B int32
}

// EchoResponse carries the content of the Echo it answers.
type EchoResponse struct {
	Content []byte
}

// AddResponse carries A+B with two's complement wrap-around on overflow.
type AddResponse struct {
	Sum int32
}

func (Echo) Tag() Tag { return TagEcho }
func (Add) Tag() Tag  { return TagAdd }

func (EchoResponse) Tag() Tag { return TagEchoResponse }
func (AddResponse) Tag() Tag  { return TagAddResponse }

func (Echo) clientMessage() {}
func (Add) clientMessage()  {}

func (EchoResponse) serverMessage() {}
func (AddResponse) serverMessage()  {}
