// Package crdt turns local edits at document positions into permanent
// character addresses.
//
// A State owns the client registry with its per-client identity logs and the
// content index of runs. The index reports every structural change back to
// the identity logs, so each address always knows which run holds it.
//
// A State is not safe for concurrent use; callers serialize access.
package crdt

import (
	"fmt"
	"iter"
	"log/slog"

	"github.com/kevinxiao27/textcrdt/internal/skiplist"
	"github.com/kevinxiao27/textcrdt/ol"
)

// contentIndex is the part of the run index a State reads and edits through.
// *skiplist.SkipList[ol.Run] is the only production implementation.
type contentIndex interface {
	Len() int
	NumItems() int
	Cursor(pos int) (*skiplist.Cursor[ol.Run], int, error)
	Lookup(m skiplist.Marker) (ol.Run, error)
	All() iter.Seq2[skiplist.Marker, ol.Run]
	Items() []ol.Run
}

type State struct {
	clients *ol.Registry
	index   contentIndex
	logger  *slog.Logger
}

type config struct {
	logger      *slog.Logger
	clientLimit int
	indexOpts   []skiplist.Option
}

type Option func(*config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithSeed fixes the random source of the content index.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.indexOpts = append(c.indexOpts, skiplist.WithSeed(seed)) }
}

func WithMaxHeight(h int) Option {
	return func(c *config) { c.indexOpts = append(c.indexOpts, skiplist.WithMaxHeight(h)) }
}

// WithClientLimit lowers the number of clients the state will register.
func WithClientLimit(n int) Option {
	return func(c *config) { c.clientLimit = n }
}

func New(opts ...Option) *State {
	cfg := config{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	clients := ol.NewRegistry(cfg.clientLimit)
	return &State{
		clients: clients,
		index:   skiplist.New[ol.Run](clients, cfg.indexOpts...),
		logger:  cfg.logger,
	}
}

func (s *State) GetOrCreateClientID(name string) (ol.ClientID, error) {
	id, err := s.clients.GetOrCreateID(name)
	if err != nil {
		return ol.ClientInvalid, err
	}
	return id, nil
}

func (s *State) ClientID(name string) (ol.ClientID, bool) {
	return s.clients.ID(name)
}

func (s *State) ClientName(id ol.ClientID) (ol.ClientName, bool) {
	return s.clients.Name(id)
}

// Op describes one local insert as it would be sent to other replicas.
type Op struct {
	ID     ol.Address // first inserted character
	Origin ol.Address
	Len    int
}

// LocalInsert inserts length new characters by client at pos and returns
// the origin of the insert. On error nothing has changed.
func (s *State) LocalInsert(client ol.ClientID, pos, length int) (ol.Address, error) {
	op, err := s.LocalInsertOp(client, pos, length)
	if err != nil {
		return ol.Address{}, err
	}
	return op.Origin, nil
}

// LocalInsertOp is LocalInsert, reporting the new addresses as well.
func (s *State) LocalInsertOp(client ol.ClientID, pos, length int) (Op, error) {
	if length <= 0 {
		return Op{}, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	if !s.clients.Has(client) {
		return Op{}, fmt.Errorf("%w: %d", ErrUnknownClient, client)
	}
	if pos < 0 || pos > s.index.Len() {
		return Op{}, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidPosition, pos, s.index.Len())
	}

	start, err := s.clients.Reserve(client, length)
	if err != nil {
		return Op{}, err
	}

	op, err := s.insert(client, start, pos, length)
	if err != nil {
		s.clients.Truncate(client, start)
		s.logger.Debug("local insert rolled back",
			slog.Int("client", int(client)),
			slog.Int("pos", pos),
			slog.Int("len", length),
			slog.Any("error", err))
		return Op{}, fmt.Errorf("%w: %w", ErrInternalConsistency, err)
	}
	return op, nil
}

func (s *State) insert(client ol.ClientID, start ol.Seq, pos, length int) (Op, error) {
	item := ol.Run{Origin: ol.Address{Client: client, Seq: start}, Length: uint32(length)}
	op := Op{ID: item.Origin, Origin: ol.DocRoot, Len: length}

	cursor, offset, err := s.index.Cursor(pos)
	if err != nil {
		return Op{}, err
	}

	var ref ol.Run
	var ok bool
	if offset == 0 {
		ref, ok = cursor.PrevItem()
	} else {
		ref, ok = cursor.CurrentItem()
	}
	if !ok {
		_, err = cursor.Insert(item)
		return op, err
	}

	op.Origin = ol.Address{Client: ref.Origin.Client, Seq: ref.Origin.Seq + ol.Seq(offset)}

	// only a same-client continuation landing on a run boundary is merged
	if offset == 0 && ref.Origin.Client == client && ref.End() == start {
		_, err = cursor.ModifyPrevItem(func(r ol.Run) ol.Run {
			r.Length += uint32(length)
			return r
		})
		return op, err
	}

	if offset > 0 {
		s.logger.Debug("splitting run",
			slog.String("run", ref.String()),
			slog.Int("at", offset))
	}
	_, err = cursor.Insert(item)
	return op, err
}

// Len returns the document length in characters.
func (s *State) Len() int { return s.index.Len() }

// NumRuns returns the number of runs in the content index.
func (s *State) NumRuns() int { return s.index.NumItems() }

// Runs returns the runs in document order.
func (s *State) Runs() []ol.Run { return s.index.Items() }

// NumClients returns the number of registered clients.
func (s *State) NumClients() int { return s.clients.Len() }

// Resolve returns the run currently holding addr.
func (s *State) Resolve(addr ol.Address) (ol.Run, error) {
	m, ok := s.clients.Marker(addr)
	if !ok {
		return ol.Run{}, fmt.Errorf("%w: %v", ErrUnknownAddress, addr)
	}
	run, err := s.index.Lookup(m)
	if err != nil {
		return ol.Run{}, fmt.Errorf("%w: %v: %w", ErrInternalConsistency, addr, err)
	}
	if !run.Contains(addr) {
		return ol.Run{}, fmt.Errorf("%w: %v resolved to %v", ErrInternalConsistency, addr, run)
	}
	return run, nil
}
