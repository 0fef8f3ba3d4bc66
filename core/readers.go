package core

// ReaderMode selects which expired messages an ExpirationReader hears about.
type ReaderMode int

const (
	ExpiredAgents ReaderMode = iota
	ExpiredRequests
	AllExpired
)

// Accepts reports whether a reader in mode m wants expiries of kind k.
func (m ReaderMode) Accepts(k MessageKind) bool {
	switch m {
	case AllExpired:
		return true
	case ExpiredAgents:
		return k == KindAgent
	case ExpiredRequests:
		return k == KindRequest
	}
	return false
}

// ExpirationReader observes messages a node discards because they ran out of
// lifespan.
type ExpirationReader interface {
	ReadExpired(id string)
	Mode() ReaderMode
}

// RequestReader observes requests that made it back to their origin.
type RequestReader interface {
	ReadSuccessfulRequest(id string)
}

// AbandonedRequestReader is optionally implemented by a RequestReader that
// also wants to know when the origin gives up on a request for good.
type AbandonedRequestReader interface {
	ReadAbandonedRequest(id string)
}
