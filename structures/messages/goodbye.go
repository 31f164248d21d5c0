package messages

const (
	// GoodbyeMessageSignature is the signature byte for the GOODBYE message
	GoodbyeMessageSignature = 0x02
)

// GoodbyeMessage Represents a GOODBYE message, sent best-effort before
// closing the socket.
type GoodbyeMessage struct{}

// NewGoodbyeMessage Gets a new GoodbyeMessage struct
func NewGoodbyeMessage() GoodbyeMessage {
	return GoodbyeMessage{}
}

// Signature gets the signature byte for the struct
func (i GoodbyeMessage) Signature() int {
	return GoodbyeMessageSignature
}

// AllFields gets the fields to encode for the struct
func (i GoodbyeMessage) AllFields() []interface{} {
	return []interface{}{}
}
