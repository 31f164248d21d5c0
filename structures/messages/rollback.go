package messages

const (
	// RollbackMessageSignature is the signature byte for the ROLLBACK message
	RollbackMessageSignature = 0x13
)

// RollbackMessage Represents a ROLLBACK message
type RollbackMessage struct{}

// NewRollbackMessage Gets a new RollbackMessage struct
func NewRollbackMessage() RollbackMessage {
	return RollbackMessage{}
}

// Signature gets the signature byte for the struct
func (i RollbackMessage) Signature() int {
	return RollbackMessageSignature
}

// AllFields gets the fields to encode for the struct
func (i RollbackMessage) AllFields() []interface{} {
	return []interface{}{}
}
