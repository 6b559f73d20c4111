package octant

// Info is the per-octant flag bitset named in spec §3: per-face boundary,
// per-face partition-boundary ("pbound"), and the two new-after-adapt
// flags. It packs into a single uint32 since the largest supported
// dimension (3) never needs more than 6 face bits per category.
type Info uint32

const maxFaces = 6

const (
	boundaryBase     = 0
	pboundBase       = boundaryBase + maxFaces
	newAfterRefBit   = pboundBase + maxFaces
	newAfterCoarsBit = newAfterRefBit + 1
)

// Boundary reports whether face f of the octant lies on the domain
// boundary (and is not periodic).
func (i Info) Boundary(f int) bool { return i&(1<<uint(boundaryBase+f)) != 0 }

// SetBoundary sets or clears the domain-boundary flag for face f.
func (i Info) SetBoundary(f int, v bool) Info { return setBit(i, boundaryBase+f, v) }

// PBound reports whether face f of the octant is a partition boundary,
// i.e. has at least one neighbor owned by another process.
func (i Info) PBound(f int) bool { return i&(1<<uint(pboundBase+f)) != 0 }

// SetPBound sets or clears the partition-boundary flag for face f.
func (i Info) SetPBound(f int, v bool) Info { return setBit(i, pboundBase+f, v) }

// AnyPBound reports whether any of the first nFaces face bits has the
// pbound flag set.
func (i Info) AnyPBound(nFaces int) bool {
	for f := 0; f < nFaces; f++ {
		if i.PBound(f) {
			return true
		}
	}
	return false
}

// NewAfterRefinement reports whether this octant was produced by the most
// recent refine step.
func (i Info) NewAfterRefinement() bool { return i&(1<<uint(newAfterRefBit)) != 0 }

// SetNewAfterRefinement sets or clears the new-after-refinement flag.
func (i Info) SetNewAfterRefinement(v bool) Info { return setBit(i, newAfterRefBit, v) }

// NewAfterCoarsening reports whether this octant was produced by the most
// recent coarsen step.
func (i Info) NewAfterCoarsening() bool { return i&(1<<uint(newAfterCoarsBit)) != 0 }

// SetNewAfterCoarsening sets or clears the new-after-coarsening flag.
func (i Info) SetNewAfterCoarsening(v bool) Info { return setBit(i, newAfterCoarsBit, v) }

// ResetAdaptFlags clears both new-after-refinement and new-after-coarsening,
// as required at the start of every adapt pipeline run (spec §4.5 step 1).
func (i Info) ResetAdaptFlags() Info {
	i = i.SetNewAfterRefinement(false)
	i = i.SetNewAfterCoarsening(false)
	return i
}

func setBit(i Info, bit int, v bool) Info {
	if v {
		return i | (1 << uint(bit))
	}
	return i &^ (1 << uint(bit))
}
