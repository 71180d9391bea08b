package ol

import (
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/kevinxiao27/textcrdt/internal/skiplist"
)

var (
	ErrClientCapacityExceeded = errors.New("client capacity exceeded")
	ErrUnknownClient          = errors.New("unknown client")
	ErrSeqExhausted           = errors.New("client sequence space exhausted")
)

type clientData struct {
	name ClientName

	// one marker per character this client ever inserted, indexed by seq.
	// long inserts repeat the same marker many times
	ops []skiplist.Marker
}

// Registry maps client names to ids and keeps each client's identity log:
// for every address, the marker of the run currently holding it.
type Registry struct {
	clients []clientData
	byName  map[ClientName]ClientID
	limit   int
}

// NewRegistry returns an empty registry holding at most limit clients. A
// limit outside (0, ClientInvalid] means ClientInvalid.
func NewRegistry(limit int) *Registry {
	if limit <= 0 || limit > int(ClientInvalid) {
		limit = int(ClientInvalid)
	}
	return &Registry{
		byName: make(map[ClientName]ClientID),
		limit:  limit,
	}
}

func (r *Registry) GetOrCreateID(name string) (ClientID, error) {
	if id, ok := r.ID(name); ok {
		return id, nil
	}
	if len(r.clients) >= r.limit {
		return ClientInvalid, fmt.Errorf("%w: %d clients", ErrClientCapacityExceeded, len(r.clients))
	}

	id := ClientID(len(r.clients))
	r.clients = append(r.clients, clientData{name: ClientName(name)})
	r.byName[ClientName(name)] = id
	return id, nil
}

func (r *Registry) ID(name string) (ClientID, bool) {
	id, ok := r.byName[ClientName(name)]
	return id, ok
}

func (r *Registry) Name(id ClientID) (ClientName, bool) {
	if !r.Has(id) {
		return "", false
	}
	return r.clients[id].name, true
}

func (r *Registry) Has(id ClientID) bool { return int(id) < len(r.clients) }

// Len returns the number of registered clients.
func (r *Registry) Len() int { return len(r.clients) }

// SeqLen returns how many characters the client has inserted so far, which
// is also the next sequence number it will use.
func (r *Registry) SeqLen(id ClientID) int {
	if !r.Has(id) {
		return 0
	}
	return len(r.clients[id].ops)
}

// Reserve appends count null markers to the client's log and returns the
// first new sequence number.
func (r *Registry) Reserve(id ClientID, count int) (Seq, error) {
	if !r.Has(id) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownClient, id)
	}
	c := &r.clients[id]
	start := len(c.ops)
	if count < 0 || uint64(count) > math.MaxUint32-uint64(start) {
		return 0, fmt.Errorf("%w: client %d at %d cannot take %d more", ErrSeqExhausted, id, start, count)
	}
	c.ops = append(c.ops, make([]skiplist.Marker, count)...)
	return Seq(start), nil
}

// Truncate drops every slot from seq on. Used to undo a Reserve.
func (r *Registry) Truncate(id ClientID, seq Seq) {
	if !r.Has(id) {
		return
	}
	c := &r.clients[id]
	if int(seq) < len(c.ops) {
		clear(c.ops[seq:])
		c.ops = c.ops[:seq]
	}
}

// ApplyUpdate points slots [from, to) of the client's log at m. The range
// always comes from a run the log has reserved; anything else is a bug.
func (r *Registry) ApplyUpdate(id ClientID, from, to Seq, m skiplist.Marker) {
	if !r.Has(id) || from > to || int(to) > len(r.clients[id].ops) {
		panic(fmt.Sprintf("ol: update [%d, %d) outside the log of client %d", from, to, id))
	}
	ops := r.clients[id].ops[from:to]
	for i := range ops {
		ops[i] = m
	}
}

// Notify implements skiplist.NotifyTarget.
func (r *Registry) Notify(run Run, m skiplist.Marker) {
	r.ApplyUpdate(run.Origin.Client, run.Origin.Seq, run.End(), m)
}

// Marker returns the marker currently stored for addr.
func (r *Registry) Marker(addr Address) (skiplist.Marker, bool) {
	if !r.Has(addr.Client) || int(addr.Seq) >= len(r.clients[addr.Client].ops) {
		return skiplist.Marker{}, false
	}
	return r.clients[addr.Client].ops[addr.Seq], true
}

// Ops yields every address of the client with its stored marker.
func (r *Registry) Ops(id ClientID) iter.Seq2[Address, skiplist.Marker] {
	return func(yield func(Address, skiplist.Marker) bool) {
		if !r.Has(id) {
			return
		}
		for seq, m := range r.clients[id].ops {
			if !yield(Address{Client: id, Seq: Seq(seq)}, m) {
				return
			}
		}
	}
}
