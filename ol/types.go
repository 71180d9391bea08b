package ol

import (
	"fmt"
	"math"
)

type ClientID uint16

type ClientName string

type Seq uint32 // per client, dense from 0

// ClientInvalid is never handed out; it marks the document root.
const ClientInvalid ClientID = math.MaxUint16

// Address is the permanent identity of one character.
type Address struct { // GUID
	Client ClientID
	Seq    Seq
}

// DocRoot is the origin of anything inserted at the start of an empty document.
var DocRoot = Address{Client: ClientInvalid, Seq: 0}

func (a Address) IsRoot() bool { return a == DocRoot }

func (a Address) Unpack() (ClientID, Seq) {
	return a.Client, a.Seq
}

// Advance returns the address n characters further along the same client's log.
func (a Address) Advance(n int) Address {
	return Address{Client: a.Client, Seq: a.Seq + Seq(n)}
}

func (a Address) String() string {
	if a.IsRoot() {
		return "ROOT"
	}
	return fmt.Sprintf("%d@%d", a.Client, a.Seq)
}

// Run is a block of characters inserted contiguously by one client. It holds
// exactly the addresses Origin.Seq .. Origin.Seq+Length-1 of Origin.Client.
type Run struct {
	Origin Address
	Length uint32
}

func (r Run) Len() int { return int(r.Length) }

// End is the first sequence number past the run.
func (r Run) End() Seq { return r.Origin.Seq + Seq(r.Length) }

func (r Run) Contains(a Address) bool {
	return a.Client == r.Origin.Client && a.Seq >= r.Origin.Seq && a.Seq < r.End()
}

// Split cuts the run after at characters, 0 < at < Len().
func (r Run) Split(at int) (Run, Run) {
	n := uint32(at)
	return Run{Origin: r.Origin, Length: n},
		Run{Origin: r.Origin.Advance(at), Length: r.Length - n}
}

func (r Run) String() string {
	return fmt.Sprintf("%v+%d", r.Origin, r.Length)
}
