package sig

import (
	"github.com/blacktop/sigkit/pkg/disass"
	"github.com/blacktop/sigkit/pkg/matcher"
	"github.com/blacktop/sigkit/pkg/signature"
)

// Match is one recovered function.
type Match struct {
	Address   uint64              `json:"address"`
	Name      string              `json:"name"`
	Signature *signature.Function `json:"signature,omitempty"`
}

// MatchImage runs the matcher over every function in the image and
// returns the recovered functions in address order.
func MatchImage(img *disass.Image, m *matcher.Matcher) []Match {
	ns := matcher.NewMemoryNamespace()
	var matches []Match
	for _, fn := range img.Functions() {
		m.MatchFunction(fn, ns, func(fn disass.Function, matched *signature.Function) {
			matches = append(matches, Match{
				Address:   fn.Start(),
				Name:      matched.Symbol.Name,
				Signature: matched,
			})
		})
	}
	return matches
}
