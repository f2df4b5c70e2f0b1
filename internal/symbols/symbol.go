// Package symbols defines the normalized symbol record the bridge returns
// to tool callers, along with the ranking rules resolve_symbol uses to pick
// a single best match out of a workspace-symbol search (spec §4.F).
package symbols

import (
	"sort"
	"strings"

	"github.com/mcpcpp/bridge/internal/lspproto"
)

// Record is the normalized shape of a symbol the bridge surfaces, flattened
// out of whatever document-symbol or workspace-symbol shape the server
// returned it in.
type Record struct {
	Name             string         `json:"name"`
	QualifiedName    string         `json:"qualified_name"`
	ContainerName    string         `json:"container_name,omitempty"`
	Kind             string         `json:"kind"`
	URI              string         `json:"uri"`
	Range            lspproto.Range `json:"range"`
	External         bool           `json:"external,omitempty"`
	Signature        string         `json:"signature,omitempty"`
	Documentation    string         `json:"documentation,omitempty"`
	ContainerSnippet string         `json:"container_snippet,omitempty"`
}

// FromWorkspaceSymbol normalizes one workspace/symbol result.
func FromWorkspaceSymbol(ws lspproto.WorkspaceSymbol, kindName string, external bool) Record {
	return Record{
		Name:          ws.Name,
		QualifiedName: qualify(ws.ContainerName, ws.Name),
		ContainerName: ws.ContainerName,
		Kind:          kindName,
		URI:           ws.Location.URI,
		Range:         ws.Location.Range,
		External:      external,
	}
}

// FromDocumentSymbol flattens one node of a hierarchical document-symbol
// tree, given the URI of the document it came from and its container chain.
// Detail is clangd's rendering of the symbol's signature (return type,
// parameter list, qualifiers), so it feeds Signature directly.
func FromDocumentSymbol(ds lspproto.DocumentSymbol, uri, container, kindName string, external bool) Record {
	return Record{
		Name:          ds.Name,
		QualifiedName: qualify(container, ds.Name),
		ContainerName: container,
		Kind:          kindName,
		URI:           uri,
		Range:         ds.SelectionRange,
		External:      external,
		Signature:     ds.Detail,
	}
}

func qualify(container, name string) string {
	if container == "" {
		return name
	}
	return container + "::" + name
}

// Tier buckets candidates for resolve_symbol's best-match rule: exact
// qualified name beats exact bare name beats a fuzzy match (spec §4.F).
type Tier int

const (
	TierFuzzy Tier = iota
	TierExactName
	TierExactQualified
)

func tierOf(query string, r Record) Tier {
	switch {
	case r.QualifiedName == query:
		return TierExactQualified
	case r.Name == query:
		return TierExactName
	default:
		return TierFuzzy
	}
}

// fuzzyScore is a small substring/prefix heuristic: higher is better. It
// does not attempt a full edit-distance metric since the corpus of
// candidates is already pre-filtered by the server's own fuzzy matcher;
// this only needs to order what the server already considered plausible.
func fuzzyScore(query string, r Record) int {
	name := strings.ToLower(r.Name)
	q := strings.ToLower(query)
	switch {
	case name == q:
		return 100
	case strings.HasPrefix(name, q):
		return 80
	case strings.Contains(name, q):
		return 50
	default:
		return 0
	}
}

// Resolution is the outcome of picking a best match among candidates.
type Resolution struct {
	Match     *Record
	Ambiguous bool
	Tied      []Record
}

// Resolve implements the exact-qualified-name > exact-name > fuzzy-rank
// rule from spec §4.F, returning Ambiguous only when two or more results
// tie at the top of the best tier.
func Resolve(query string, candidates []Record) Resolution {
	if len(candidates) == 0 {
		return Resolution{}
	}

	type scored struct {
		rec   Record
		tier  Tier
		score int
	}
	scoredCandidates := make([]scored, len(candidates))
	for i, c := range candidates {
		scoredCandidates[i] = scored{rec: c, tier: tierOf(query, c), score: fuzzyScore(query, c)}
	}

	sort.SliceStable(scoredCandidates, func(i, j int) bool {
		if scoredCandidates[i].tier != scoredCandidates[j].tier {
			return scoredCandidates[i].tier > scoredCandidates[j].tier
		}
		return scoredCandidates[i].score > scoredCandidates[j].score
	})

	best := scoredCandidates[0]
	var tiedAtTop []Record
	for _, c := range scoredCandidates {
		if c.tier == best.tier && c.score == best.score {
			tiedAtTop = append(tiedAtTop, c.rec)
		}
	}

	if len(tiedAtTop) > 1 {
		return Resolution{Ambiguous: true, Tied: tiedAtTop}
	}

	match := best.rec
	return Resolution{Match: &match}
}
