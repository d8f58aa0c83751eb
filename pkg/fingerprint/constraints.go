package fingerprint

import (
	"github.com/apex/log"
	"github.com/blacktop/sigkit/pkg/disass"
	"github.com/blacktop/sigkit/pkg/signature"
)

// CallSiteConstraints returns one constraint per distinct callee, each
// carrying the callee's fingerprint when resolvable and/or its symbol.
// This is a pure read over completed analysis; it has no side effects on
// the view.
func (c *Cache) CallSiteConstraints(fn disass.Function) []signature.Constraint {
	var constraints []signature.Constraint
	for _, ct := range fn.CallTargets() {
		constraint := signature.Constraint{Symbol: ct.Symbol}
		if ct.Target != nil {
			guid, err := c.FunctionGUID(ct.Target)
			if err != nil {
				log.WithField("address", ct.Addr).WithError(err).Debug("failed to fingerprint callee")
			} else {
				constraint.GUID = guid
			}
		}
		if constraint.GUID.IsZero() && constraint.Symbol == nil {
			// Nothing to vote with.
			continue
		}
		constraints = append(constraints, constraint)
	}
	return constraints
}

// AdjacencyConstraints returns constraints for the functions laid out
// directly before and after fn in address order, filtered by keep.
func (c *Cache) AdjacencyConstraints(fn disass.Function, keep func(disass.Function) bool) []signature.Constraint {
	view := fn.View()
	var constraints []signature.Constraint
	add := func(adj disass.Function) {
		if adj == nil || adj.Start() == fn.Start() || !keep(adj) {
			return
		}
		sym := adj.Symbol()
		constraint := signature.Constraint{
			Symbol: &sym,
			Offset: int64(adj.Start()) - int64(fn.Start()),
		}
		if guid, err := c.FunctionGUID(adj); err == nil {
			constraint.GUID = guid
		}
		constraints = append(constraints, constraint)
	}
	if fn.Start() > 0 {
		add(view.FunctionAt(fn.Start() - 1))
	}
	add(view.FunctionAt(fn.End()))
	return constraints
}

// BuildFunction assembles the full signature entry for fn: fingerprint,
// symbol, type, and structural constraints. Caller sites stay empty; they
// need a whole-program pass this engine does not assume has run.
func (c *Cache) BuildFunction(fn disass.Function) (signature.Function, error) {
	guid, err := c.FunctionGUID(fn)
	if err != nil {
		return signature.Function{}, err
	}
	return signature.Function{
		GUID:   guid,
		Symbol: fn.Symbol(),
		Type:   fn.Type(),
		Constraints: signature.Constraints{
			CallSites: c.CallSiteConstraints(fn),
			Adjacent:  c.AdjacencyConstraints(fn, func(disass.Function) bool { return true }),
		},
	}, nil
}
