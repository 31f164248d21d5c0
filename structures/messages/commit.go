package messages

const (
	// CommitMessageSignature is the signature byte for the COMMIT message
	CommitMessageSignature = 0x12
)

// CommitMessage Represents a COMMIT message
type CommitMessage struct{}

// NewCommitMessage Gets a new CommitMessage struct
func NewCommitMessage() CommitMessage {
	return CommitMessage{}
}

// Signature gets the signature byte for the struct
func (i CommitMessage) Signature() int {
	return CommitMessageSignature
}

// AllFields gets the fields to encode for the struct
func (i CommitMessage) AllFields() []interface{} {
	return []interface{}{}
}
