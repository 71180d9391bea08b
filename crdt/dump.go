package crdt

import (
	"github.com/sanity-io/litter"

	"github.com/kevinxiao27/textcrdt/ol"
	"github.com/kevinxiao27/textcrdt/util"
)

type clientDump struct {
	ID       ol.ClientID
	Name     ol.ClientName
	Inserted int
}

type stateDump struct {
	Len     int
	Clients []clientDump
	Runs    []string
}

var dumpOptions = litter.Options{
	HidePrivateFields: false,
	Compact:           false,
	StripPackageNames: true,
}

// Dump renders the clients and runs for debugging.
func (s *State) Dump() string {
	d := stateDump{
		Len:  s.index.Len(),
		Runs: util.Map(s.index.Items(), ol.Run.String),
	}
	for id := 0; id < s.clients.Len(); id++ {
		cid := ol.ClientID(id)
		name, _ := s.clients.Name(cid)
		d.Clients = append(d.Clients, clientDump{ID: cid, Name: name, Inserted: s.clients.SeqLen(cid)})
	}
	return dumpOptions.Sdump(d)
}
