package messages

const (
	// DiscardMessageSignature is the signature byte for the DISCARD message
	DiscardMessageSignature = 0x2F
)

// DiscardMessage Represents a DISCARD message, dropping the next n
// records of the most recent statement without transferring them.
type DiscardMessage struct {
	extra map[string]interface{}
}

// NewDiscardMessage Gets a new DiscardMessage struct. n may be PullAll.
// A non-negative qid addresses one of several open statements within an
// explicit transaction; pass -1 to target the most recent statement.
func NewDiscardMessage(n, qid int64) DiscardMessage {
	extra := map[string]interface{}{"n": n}
	if qid >= 0 {
		extra["qid"] = qid
	}
	return DiscardMessage{extra: extra}
}

// Signature gets the signature byte for the struct
func (i DiscardMessage) Signature() int {
	return DiscardMessageSignature
}

// AllFields gets the fields to encode for the struct
func (i DiscardMessage) AllFields() []interface{} {
	return []interface{}{i.extra}
}
