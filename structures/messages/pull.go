package messages

const (
	// PullMessageSignature is the signature byte for the PULL message
	PullMessageSignature = 0x3F

	// PullAll requests every remaining record of the current result.
	PullAll int64 = -1
)

// PullMessage Represents a PULL message requesting the next n records of
// the most recent statement.
type PullMessage struct {
	extra map[string]interface{}
}

// NewPullMessage Gets a new PullMessage struct. n may be PullAll. A
// non-negative qid addresses one of several open statements within an
// explicit transaction; pass -1 to target the most recent statement.
func NewPullMessage(n, qid int64) PullMessage {
	extra := map[string]interface{}{"n": n}
	if qid >= 0 {
		extra["qid"] = qid
	}
	return PullMessage{extra: extra}
}

// Signature gets the signature byte for the struct
func (i PullMessage) Signature() int {
	return PullMessageSignature
}

// AllFields gets the fields to encode for the struct
func (i PullMessage) AllFields() []interface{} {
	return []interface{}{i.extra}
}
