// Package diff computes structural differences between two database
// schemas, using similarity heuristics to tell renames apart from
// independent drop/create pairs.
package diff

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/tordrt/schemamigrate/internal/schema"
)

// similarityThreshold is the minimum confidence for a candidate pair to
// be reported as a rename at all.
const similarityThreshold = 0.6

// RenameDetector scores (removed, added) pairs and keeps the plausible
// ones so that a rename is not misread as a destructive drop+create.
type RenameDetector struct{}

// NewRenameDetector creates a rename detector.
func NewRenameDetector() *RenameDetector {
	return &RenameDetector{}
}

type columnCandidate struct {
	removed    schema.ColumnDefinition
	added      schema.ColumnDefinition
	confidence float64
}

// DetectColumnRenames scores every removed/added column pair within one
// table and greedily selects non-conflicting pairs by descending
// confidence. Each source and each destination column is used at most
// once; the highest-confidence match wins. This is a bipartite-matching
// approximation, not an optimal assignment.
func (d *RenameDetector) DetectColumnRenames(table string, removed, added []schema.ColumnDefinition) []schema.ColumnRename {
	var candidates []columnCandidate
	for _, r := range removed {
		for _, a := range added {
			confidence := d.columnConfidence(r, a)
			if confidence >= similarityThreshold {
				candidates = append(candidates, columnCandidate{removed: r, added: a, confidence: confidence})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].confidence > candidates[j].confidence
	})

	usedFrom := make(map[string]bool)
	usedTo := make(map[string]bool)
	var renames []schema.ColumnRename
	for _, c := range candidates {
		if usedFrom[c.removed.Name] || usedTo[c.added.Name] {
			continue
		}
		usedFrom[c.removed.Name] = true
		usedTo[c.added.Name] = true
		renames = append(renames, schema.ColumnRename{
			Table:      table,
			From:       c.removed.Name,
			To:         c.added.Name,
			Confidence: c.confidence,
		})
	}

	return renames
}

// columnConfidence combines name similarity, type compatibility and
// constraint equality into a [0,1] score.
func (d *RenameDetector) columnConfidence(removed, added schema.ColumnDefinition) float64 {
	confidence := 0.5 * nameSimilarity(removed.Name, added.Name)

	if schema.TypesCompatible(removed.Type, added.Type) {
		confidence += 0.3
	}

	if removed.Nullable == added.Nullable &&
		removed.Unique == added.Unique &&
		removed.Primary == added.Primary {
		confidence += 0.2
	}

	return confidence
}

// DetectTableRenames finds the single best added-table match for each
// removed table, scoring 0.6 on name similarity and 0.4 on structural
// similarity (shared column names over the larger column set).
func (d *RenameDetector) DetectTableRenames(removed, added []*schema.TableDefinition) []schema.TableRename {
	var renames []schema.TableRename
	usedTo := make(map[string]bool)

	for _, r := range removed {
		best := schema.TableRename{}
		bestStructural := 0.0
		for _, a := range added {
			if usedTo[a.Name] {
				continue
			}
			structural := structuralSimilarity(r, a)
			confidence := 0.6*nameSimilarity(r.Name, a.Name) + 0.4*structural
			if confidence > best.Confidence {
				best = schema.TableRename{From: r.Name, To: a.Name, Confidence: confidence}
				bestStructural = structural
			}
		}
		// An exact column-set match is strong evidence of a rename even
		// when the names share nothing; the confirmation prompt lets an
		// operator reject false positives.
		exactStructure := bestStructural == 1 && len(r.Columns) > 0
		if best.To != "" && (best.Confidence >= similarityThreshold || exactStructure) {
			usedTo[best.To] = true
			renames = append(renames, best)
		}
	}

	return renames
}

// nameSimilarity is normalized Levenshtein similarity in [0,1],
// case-insensitive.
func nameSimilarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1
	}
	// ComputeDistance counts runes, so the normalization length must too.
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(maxLen)
}

// structuralSimilarity is the share of column names the two tables have
// in common, over the larger of the two column sets. Two empty tables
// count as identical.
func structuralSimilarity(a, b *schema.TableDefinition) float64 {
	if len(a.Columns) == 0 && len(b.Columns) == 0 {
		return 1
	}

	names := make(map[string]bool, len(a.Columns))
	for _, c := range a.Columns {
		names[c.Name] = true
	}

	common := 0
	for _, c := range b.Columns {
		if names[c.Name] {
			common++
		}
	}

	maxSize := len(a.Columns)
	if len(b.Columns) > maxSize {
		maxSize = len(b.Columns)
	}
	return float64(common) / float64(maxSize)
}
