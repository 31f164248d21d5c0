package messages

const (
	// HelloMessageSignature is the signature byte for the HELLO message
	HelloMessageSignature = 0x01
)

// HelloMessage Represents a HELLO message, sent once after the handshake
// to authenticate the connection.
type HelloMessage struct {
	metadata map[string]interface{}
}

// NewHelloMessage Gets a new HelloMessage struct
func NewHelloMessage(userAgent, scheme, principal, credentials string, routingContext map[string]string) HelloMessage {
	metadata := map[string]interface{}{
		"user_agent": userAgent,
		"scheme":     scheme,
	}
	if scheme == "basic" {
		metadata["principal"] = principal
		metadata["credentials"] = credentials
	}
	if routingContext != nil {
		routing := make(map[string]interface{}, len(routingContext))
		for k, v := range routingContext {
			routing[k] = v
		}
		metadata["routing"] = routing
	}
	return HelloMessage{metadata: metadata}
}

// Signature gets the signature byte for the struct
func (i HelloMessage) Signature() int {
	return HelloMessageSignature
}

// AllFields gets the fields to encode for the struct
func (i HelloMessage) AllFields() []interface{} {
	return []interface{}{i.metadata}
}
