// Package matcher decides whether a newly analyzed function corresponds
// to a known signature. Fingerprint equality selects the candidate set;
// call-site constraint voting disambiguates collisions.
package matcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/apex/log"
	"github.com/blacktop/sigkit/pkg/disass"
	"github.com/blacktop/sigkit/pkg/fingerprint"
	"github.com/blacktop/sigkit/pkg/signature"
	lru "github.com/hashicorp/golang-lru/v2"
)

// TrivialFunctionDeltaThreshold is the minimum byte span for the
// single-candidate fast path; anything smaller is too likely to collide
// spuriously and must win a constraint vote instead.
const TrivialFunctionDeltaThreshold = 20

const matchCacheSize = 4096

// Config locates the signature roots. Each root holds one subdirectory
// per platform name; the matcher scans system before user so colliding
// type keys resolve to the user definition.
type Config struct {
	SystemDir string
	UserDir   string
}

// Matcher is the in-memory signature index for one platform.
type Matcher struct {
	functions map[signature.GUID][]signature.Function
	types     map[signature.GUID]*signature.Type
	named     map[string]*signature.Type

	prints  *fingerprint.Cache
	results *lru.Cache[funcKey, *signature.Function]
}

type funcKey struct {
	view  disass.View
	start uint64
}

// FromPlatform builds a matcher from the platform's subdirectory under
// the system and user signature roots. Bundles that fail to parse are
// skipped with a warning; a platform with no bundles yields an empty
// matcher, not an error.
func FromPlatform(cfg Config, platform string) *Matcher {
	m := &Matcher{
		functions: make(map[signature.GUID][]signature.Function),
		types:     make(map[signature.GUID]*signature.Type),
		named:     make(map[string]*signature.Type),
		prints:    fingerprint.NewCache(),
	}
	m.results, _ = lru.New[funcKey, *signature.Function](matchCacheSize)

	// System first so user entries win the overwrite-on-insert type maps.
	chunks := loadDir(filepath.Join(cfg.SystemDir, platform))
	chunks = append(chunks, loadDir(filepath.Join(cfg.UserDir, platform))...)

	for _, data := range chunks {
		for _, fn := range data.Functions {
			m.functions[fn.GUID] = append(m.functions[fn.GUID], fn)
		}
		for _, ct := range data.Types {
			m.types[ct.GUID] = ct.Type
			if ct.Type.Name != "" {
				m.named[ct.Type.Name] = ct.Type
			}
		}
	}

	// Group candidates deterministically: sorted by symbol name, then
	// deduped so same-fingerprint same-name entries collapse to one.
	for guid, funcs := range m.functions {
		sort.SliceStable(funcs, func(i, j int) bool {
			return funcs[i].Symbol.Name < funcs[j].Symbol.Name
		})
		deduped := funcs[:0]
		for i, fn := range funcs {
			if i == 0 || fn.Symbol.Name != funcs[i-1].Symbol.Name {
				deduped = append(deduped, fn)
			}
		}
		m.functions[guid] = deduped
	}

	log.WithFields(log.Fields{
		"platform":  platform,
		"functions": len(m.functions),
		"types":     len(m.types),
	}).Debug("loaded platform signatures")

	return m
}

func loadDir(dir string) []*signature.Data {
	var chunks []*signature.Data
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A missing platform directory is just an empty result.
			return nil
		}
		if d.IsDir() {
			return nil
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			log.WithField("path", path).WithError(err).Error("failed to read signature bundle")
			return nil
		}
		data, err := signature.FromBytes(contents)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("skipping unreadable signature bundle")
			return nil
		}
		chunks = append(chunks, data)
		return nil
	})
	return chunks
}

// MatchFunction decides whether fn corresponds to a known signature and,
// on a match, materializes the matched type descriptors into ns and
// invokes onMatch. An unresolved fingerprint collision is "no match",
// never an error. Results are cached per function for the matcher's
// lifetime.
func (m *Matcher) MatchFunction(fn disass.Function, ns TypeNamespace, onMatch func(disass.Function, *signature.Function)) {
	key := funcKey{view: fn.View(), start: fn.Start()}
	if matched, ok := m.results.Get(key); ok {
		if matched != nil && onMatch != nil {
			onMatch(fn, matched)
		}
		return
	}

	matched := m.matchFunction(fn)
	m.results.Add(key, matched)
	if matched == nil {
		return
	}

	// Resolve return/parameter types into the target namespace before the
	// consumer sees the match.
	if ns != nil && matched.Type != nil && matched.Type.Function != nil {
		for _, out := range matched.Type.Function.OutMembers {
			m.AddTypeToNamespace(ns, out.Type)
		}
		for _, in := range matched.Type.Function.InMembers {
			m.AddTypeToNamespace(ns, in.Type)
		}
	}
	if onMatch != nil {
		onMatch(fn, matched)
	}
}

func (m *Matcher) matchFunction(fn disass.Function) *signature.Function {
	guid, err := m.prints.FunctionGUID(fn)
	if err != nil {
		log.WithField("symbol", fn.Symbol().Name).WithError(err).Debug("failed to fingerprint function")
		return nil
	}
	candidates, ok := m.functions[guid]
	if !ok {
		return nil
	}

	trivial := fn.End()-fn.Start() < TrivialFunctionDeltaThreshold
	if len(candidates) == 1 && !trivial {
		return &candidates[0]
	}
	return m.matchFromConstraints(fn, candidates)
}

// matchFromConstraints votes with call-site constraints. Adjacency is
// deliberately excluded; computing it reliably needs completed
// whole-program analysis.
func (m *Matcher) matchFromConstraints(fn disass.Function, candidates []signature.Function) *signature.Function {
	callSites := m.prints.CallSiteConstraints(fn)
	if len(callSites) == 0 {
		return nil
	}

	guids := make(map[signature.GUID]struct{})
	names := make(map[string]struct{})
	for _, c := range callSites {
		if !c.GUID.IsZero() {
			guids[c.GUID] = struct{}{}
		}
		if c.Symbol != nil {
			names[c.Symbol.Name] = struct{}{}
		}
	}

	// Two independent signals: fingerprint overlap and symbol-name
	// overlap. A tie at the leading count invalidates that signal's
	// winner, including the first of the tied set.
	var guidWinner, nameWinner *signature.Function
	var guidCount, nameCount int
	for i := range candidates {
		candidate := &candidates[i]

		common := 0
		seenGUIDs := make(map[signature.GUID]struct{})
		for _, c := range candidate.Constraints.CallSites {
			if c.GUID.IsZero() {
				continue
			}
			if _, dup := seenGUIDs[c.GUID]; dup {
				continue
			}
			seenGUIDs[c.GUID] = struct{}{}
			if _, ok := guids[c.GUID]; ok {
				common++
			}
		}
		switch {
		case common == guidCount:
			guidWinner = nil
		case common > guidCount:
			guidCount = common
			guidWinner = candidate
		}

		common = 0
		seen := make(map[string]struct{})
		for _, c := range candidate.Constraints.CallSites {
			if c.Symbol == nil {
				continue
			}
			if _, dup := seen[c.Symbol.Name]; dup {
				continue
			}
			seen[c.Symbol.Name] = struct{}{}
			if _, ok := names[c.Symbol.Name]; ok {
				common++
			}
		}
		switch {
		case common == nameCount:
			nameWinner = nil
		case common > nameCount:
			nameCount = common
			nameWinner = candidate
		}
	}

	switch {
	case guidCount > nameCount:
		return guidWinner
	case nameCount > guidCount:
		return nameWinner
	default:
		// Equal counts: only accept when both signals produced a winner
		// and those winners agree on type and symbol.
		if guidWinner == nil || nameWinner == nil {
			return nil
		}
		if guidWinner.TypeEqual(nameWinner) && guidWinner.Symbol == nameWinner.Symbol {
			return guidWinner
		}
		return nil
	}
}
