package messages

const (
	// RouteMessageSignature is the signature byte for the ROUTE message
	RouteMessageSignature = 0x66
)

// RouteMessage Represents a ROUTE message requesting the routing table
// for a database. Available on protocol 4.3 and later; older versions
// call the routing procedure instead.
type RouteMessage struct {
	routingContext map[string]interface{}
	bookmarks      []interface{}
	database       interface{}
}

// NewRouteMessage Gets a new RouteMessage struct. An empty database name
// is sent as null, meaning the server's default database.
func NewRouteMessage(routingContext map[string]string, bookmarks []string, database string) RouteMessage {
	rc := make(map[string]interface{}, len(routingContext))
	for k, v := range routingContext {
		rc[k] = v
	}
	bms := make([]interface{}, len(bookmarks))
	for i, b := range bookmarks {
		bms[i] = b
	}
	var db interface{}
	if database != "" {
		db = database
	}
	return RouteMessage{routingContext: rc, bookmarks: bms, database: db}
}

// Signature gets the signature byte for the struct
func (i RouteMessage) Signature() int {
	return RouteMessageSignature
}

// AllFields gets the fields to encode for the struct
func (i RouteMessage) AllFields() []interface{} {
	return []interface{}{i.routingContext, i.bookmarks, i.database}
}
