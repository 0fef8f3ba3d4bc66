package core

// patienceFactor scales a node's request lifespan into how many ticks the
// origin waits for a reply before reviving or abandoning the request.
const patienceFactor = 8

// Request is the origin's promise to wait for a reply. It ages every tick,
// whether or not its message is still moving.
type Request struct {
	id       string
	eventID  int
	issuedAt int
	total    int
	current  int
	revivals int
}

func newRequest(id string, eventID, issuedAt, total int) *Request {
	return &Request{id: id, eventID: eventID, issuedAt: issuedAt, total: total, current: total}
}

func (r *Request) ID() string     { return r.id }
func (r *Request) EventID() int   { return r.eventID }
func (r *Request) IssuedAt() int  { return r.issuedAt }
func (r *Request) Remaining() int { return r.current }
func (r *Request) Revivals() int  { return r.revivals }
func (r *Request) IsDead() bool   { return r.current <= 0 }

func (r *Request) decrement() {
	if r.current > 0 {
		r.current--
	}
}

func (r *Request) revive() {
	r.current = r.total
	r.revivals++
}
