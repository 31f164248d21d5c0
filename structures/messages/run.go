package messages

const (
	// RunMessageSignature is the signature byte for the RUN message
	RunMessageSignature = 0x10
)

// RunMessage Represents a RUN message
type RunMessage struct {
	statement  string
	parameters map[string]interface{}
	extra      map[string]interface{}
}

// NewRunMessage Gets a new RunMessage struct. The extra map carries
// autocommit metadata (mode, db, bookmarks, tx metadata); inside an
// explicit transaction it is empty.
func NewRunMessage(statement string, parameters map[string]interface{}, extra map[string]interface{}) RunMessage {
	if parameters == nil {
		parameters = map[string]interface{}{}
	}
	if extra == nil {
		extra = map[string]interface{}{}
	}
	return RunMessage{
		statement:  statement,
		parameters: parameters,
		extra:      extra,
	}
}

// Signature gets the signature byte for the struct
func (i RunMessage) Signature() int {
	return RunMessageSignature
}

// AllFields gets the fields to encode for the struct
func (i RunMessage) AllFields() []interface{} {
	return []interface{}{i.statement, i.parameters, i.extra}
}
