// Package index describes vector index kinds and picks one for a corpus.
package index

import (
	"fmt"
	"strings"
)

// Kind is the vector index algorithm family.
type Kind string

// Index kinds.
const (
	// KindHNSW is a navigable small-world graph: fast reads, expensive inserts.
	KindHNSW Kind = "hnsw"
	// KindIVF partitions vectors into clusters searched at query time.
	KindIVF Kind = "ivf"
	// KindFlat is exact brute force.
	KindFlat Kind = "flat"
)

// Recommendation thresholds.
const (
	FlatBelow     = 10_000
	GraphFrom     = 100_000
	GraphMaxChurn = 0.05
)

// ParseKind parses a case-insensitive kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindHNSW, KindIVF, KindFlat:
		return k, nil
	default:
		return "", fmt.Errorf("unknown index kind %q (want hnsw, ivf or flat)", s)
	}
}

// Params are the tuning knobs of every kind; each kind reads its own.
type Params struct {
	M              int `json:"m,omitempty"`
	EFConstruction int `json:"ef_construction,omitempty"`
	EFRuntime      int `json:"ef_runtime,omitempty"`
	NList          int `json:"nlist,omitempty"`
	NProbe         int `json:"nprobe,omitempty"`
	BlockSize      int `json:"block_size,omitempty"`
}

// For returns only the parameters relevant to kind.
func (p Params) For(k Kind) Params {
	switch k {
	case KindHNSW:
		return Params{M: p.M, EFConstruction: p.EFConstruction, EFRuntime: p.EFRuntime}
	case KindIVF:
		return Params{NList: p.NList, NProbe: p.NProbe}
	case KindFlat:
		return Params{BlockSize: p.BlockSize}
	default:
		return Params{}
	}
}

// State describes the live index.
type State struct {
	Name      string `json:"name"`
	Exists    bool   `json:"exists"`
	Requested Kind   `json:"requested_kind,omitempty"`
	Active    Kind   `json:"active_kind,omitempty"`
	Fallback  bool   `json:"fallback"`
	Params    Params `json:"params"`
	NumDocs   int    `json:"num_docs"`
	Indexing  bool   `json:"indexing"`
}

// Recommendation is the advisor output.
type Recommendation struct {
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`
}

// Recommend picks an index kind from corpus size and daily update volume.
// Graph for large mostly-read corpora, flat for small ones, clusters otherwise.
func Recommend(corpusSize, updatesPerDay int) (Recommendation, error) {
	if corpusSize < 0 || updatesPerDay < 0 {
		return Recommendation{}, fmt.Errorf("corpus size and updates per day must be non-negative")
	}

	if corpusSize < FlatBelow {
		return Recommendation{
			Kind:   KindFlat,
			Reason: fmt.Sprintf("corpus of %d is below %d: exact search is cheap", corpusSize, FlatBelow),
		}, nil
	}

	churn := float64(updatesPerDay) / float64(corpusSize)
	if corpusSize >= GraphFrom && churn < GraphMaxChurn {
		return Recommendation{
			Kind: KindHNSW,
			Reason: fmt.Sprintf("large corpus (%d) with low daily churn (%.1f%%): graph gives the best recall per query",
				corpusSize, churn*100),
		}, nil
	}

	return Recommendation{
		Kind: KindIVF,
		Reason: fmt.Sprintf("corpus of %d with daily churn %.1f%%: clusters rebuild cheaply",
			corpusSize, churn*100),
	}, nil
}
