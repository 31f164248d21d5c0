package messages

const (
	// BeginMessageSignature is the signature byte for the BEGIN message
	BeginMessageSignature = 0x11
)

// BeginMessage Represents a BEGIN message opening an explicit transaction.
type BeginMessage struct {
	extra map[string]interface{}
}

// NewBeginMessage Gets a new BeginMessage struct. The extra map carries
// access mode, database, bookmarks and optional transaction metadata.
func NewBeginMessage(extra map[string]interface{}) BeginMessage {
	if extra == nil {
		extra = map[string]interface{}{}
	}
	return BeginMessage{extra: extra}
}

// Signature gets the signature byte for the struct
func (i BeginMessage) Signature() int {
	return BeginMessageSignature
}

// AllFields gets the fields to encode for the struct
func (i BeginMessage) AllFields() []interface{} {
	return []interface{}{i.extra}
}
