package messages

const (
	// ResetMessageSignature is the signature byte for the RESET message
	ResetMessageSignature = 0x0F
)

// ResetMessage Represents a RESET message, which discards any pending
// work and returns the connection to a clean ready state.
type ResetMessage struct{}

// NewResetMessage Gets a new ResetMessage struct
func NewResetMessage() ResetMessage {
	return ResetMessage{}
}

// Signature gets the signature byte for the struct
func (i ResetMessage) Signature() int {
	return ResetMessageSignature
}

// AllFields gets the fields to encode for the struct
func (i ResetMessage) AllFields() []interface{} {
	return []interface{}{}
}
