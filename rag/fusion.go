// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"sort"

	"github.com/alexyujiuqiao/IM/datatypes"
)

// ReciprocalRankFusion merges multiple ranked match lists into one.
//
// # Description
//
// Each match contributes 1/(k+rank) to its document's fused score, where rank
// is its zero-based position in its list. Documents appearing in several lists
// accumulate score across them. The fused list is deduplicated by ID, ordered
// by score descending, and truncated to limit. Ties are broken by first
// appearance across the input lists, so the result is deterministic.
//
// # Inputs
//
//   - lists: Ranked result lists, one per query variant. May be empty.
//   - k: The RRF dampening constant. Values < 1 are treated as 1.
//   - limit: Maximum number of fused results. Values < 1 return nil.
//
// # Outputs
//
//   - []datatypes.RetrievedMatch: Fused matches, highest score first. A
//     match keeps the record from its first appearance.
func ReciprocalRankFusion(lists [][]datatypes.RetrievedMatch, k, limit int) []datatypes.RetrievedMatch {
	if limit < 1 {
		return nil
	}
	if k < 1 {
		k = 1
	}

	scores := make(map[string]float64)
	firstSeen := make(map[string]int)
	byID := make(map[string]datatypes.RetrievedMatch)
	order := 0

	for _, list := range lists {
		for rank, match := range list {
			scores[match.ID] += 1.0 / float64(k+rank)
			if _, ok := firstSeen[match.ID]; !ok {
				firstSeen[match.ID] = order
				byID[match.ID] = match
				order++
			}
		}
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return firstSeen[ids[i]] < firstSeen[ids[j]]
	})

	if len(ids) > limit {
		ids = ids[:limit]
	}

	fused := make([]datatypes.RetrievedMatch, 0, len(ids))
	for _, id := range ids {
		m := byID[id]
		m.Score = scores[id]
		fused = append(fused, m)
	}
	return fused
}
