package structures

// Structure represents a tagged structure on the Bolt wire: a signature
// byte plus an ordered list of fields.
type Structure interface {
	Signature() int
	AllFields() []interface{}
}

// Raw is a structure whose signature the driver does not recognize. It is
// carried through decode/encode untouched so newer server types degrade
// to opaque values instead of failing the stream.
type Raw struct {
	Sig    int
	Fields []interface{}
}

// Signature gets the signature byte for the struct
func (r Raw) Signature() int {
	return r.Sig
}

// AllFields gets the fields to encode for the struct
func (r Raw) AllFields() []interface{} {
	return r.Fields
}
