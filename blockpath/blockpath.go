// Package blockpath translates a file's logical block number into the tier
// and per-tier indices needed to reach it through the inode's pointer tree.
//
// The tiers are consumed in increasing order of reach: the direct pointers
// first, then the single-, double- and triple-indirect ranges, each starting
// where the previous tier's capacity ends. Every read or write path in the
// filesystem routes through Locate rather than re-deriving indices.
package blockpath

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/geom"
)

type Tier uint8

const (
	TierInode Tier = iota
	TierDirect
	TierSingle
	TierDouble
	TierTriple
)

// Levels is the number of pointer hops from the inode to a data block in
// this tier.
func (t Tier) Levels() uint8 {
	switch t {
	case TierDirect:
		return 1
	case TierSingle:
		return 2
	case TierDouble:
		return 3
	case TierTriple:
		return 4
	}
	return 0
}

func (t Tier) String() string {
	switch t {
	case TierInode:
		return "inode"
	case TierDirect:
		return "direct"
	case TierSingle:
		return "single"
	case TierDouble:
		return "double"
	case TierTriple:
		return "triple"
	}
	return fmt.Sprintf("tier(%d)", uint8(t))
}

// Slots is how many top-level pointers the inode holds for tier t.
func (t Tier) Slots(g *geom.Geometry) uint64 {
	switch t {
	case TierDirect:
		return g.DirectCount
	case TierSingle:
		return g.SingleCount
	case TierDouble:
		return g.DoubleCount
	case TierTriple:
		return g.TripleCount
	}
	return 0
}

// NA marks an index for a tier above the one a Path resolved to.
const NA = ^uint64(0)

var ErrOutOfRange = errors.New("out of range")

// Path is the result of Locate. Only the indices at or below Tier are
// meaningful; the rest are NA.
type Path struct {
	Tier   Tier
	Direct uint64
	Single uint64
	Double uint64
	Triple uint64
}

func naPath(t Tier) Path {
	return Path{Tier: t, Direct: NA, Single: NA, Double: NA, Triple: NA}
}

// Locate computes the tier and indices of logical block n.
func Locate(g *geom.Geometry, n uint64) (Path, error) {
	rem := n
	p2 := g.P * g.P

	if rem < g.DirectCount {
		p := naPath(TierDirect)
		p.Direct = rem
		return p, nil
	}

	rem -= g.DirectCount
	if rem < g.SingleCap() {
		p := naPath(TierSingle)
		p.Single = rem / g.P
		p.Direct = rem % g.P
		return p, nil
	}

	rem -= g.SingleCap()
	if rem < g.DoubleCap() {
		p := naPath(TierDouble)
		p.Double = rem / p2
		rem %= p2
		p.Single = rem / g.P
		p.Direct = rem % g.P
		return p, nil
	}

	rem -= g.DoubleCap()
	if rem < g.TripleCap() {
		p := naPath(TierTriple)
		p.Triple = rem / (p2 * g.P)
		rem %= p2 * g.P
		p.Double = rem / p2
		rem %= p2
		p.Single = rem / g.P
		p.Direct = rem % g.P
		return p, nil
	}

	return Path{}, errors.Wrapf(ErrOutOfRange,
		"block `%d` is beyond the last addressable block `%d`", n, g.MaxDataBlocks-1)
}

// Indices lists the path's indices in walk order, outermost first: the
// inode slot within the tier, then one index per indirect block.
func (p Path) Indices() []uint64 {
	switch p.Tier {
	case TierDirect:
		return []uint64{p.Direct}
	case TierSingle:
		return []uint64{p.Single, p.Direct}
	case TierDouble:
		return []uint64{p.Double, p.Single, p.Direct}
	case TierTriple:
		return []uint64{p.Triple, p.Double, p.Single, p.Direct}
	}
	return nil
}

// Valid checks every index against its tier's bounds and that the indices
// above the tier are NA.
func (p Path) Valid(g *geom.Geometry) bool {
	if p.Tier < TierDirect || p.Tier > TierTriple {
		return false
	}
	idx := p.Indices()
	if idx[0] >= p.Tier.Slots(g) {
		return false
	}
	for _, i := range idx[1:] {
		if i >= g.P {
			return false
		}
	}
	all := []uint64{p.Direct, p.Single, p.Double, p.Triple}
	for _, i := range all[len(idx):] {
		if i != NA {
			return false
		}
	}
	return true
}

// Block recombines a path into its logical block number; it is the inverse
// of Locate.
func Block(g *geom.Geometry, p Path) (uint64, error) {
	if !p.Valid(g) {
		return 0, errors.Wrapf(ErrOutOfRange, "malformed path %v", p)
	}
	base := uint64(0)
	switch p.Tier {
	case TierDirect:
		return p.Direct, nil
	case TierSingle:
		base = g.DirectCount
	case TierDouble:
		base = g.DirectCount + g.SingleCap()
	case TierTriple:
		base = g.DirectCount + g.SingleCap() + g.DoubleCap()
	}
	var n uint64
	for _, i := range p.Indices() {
		n = n*g.P + i
	}
	return base + n, nil
}

func (p Path) String() string {
	return fmt.Sprintf("%v%v", p.Tier, p.Indices())
}
