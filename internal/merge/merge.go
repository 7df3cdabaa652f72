// Package merge implements the three-way set merge used to reconcile array
// fields (tags, collections) between a snapshot baseline, the current Notion
// state, and the current Zotero state.
package merge

import "sort"

// ThreeWay computes a three-way merge for an array field.
//
//   - base is the snapshot from the last sync (the common ancestor).
//   - notionCurrent is the current values in Notion.
//   - zoteroCurrent is the current values in Zotero.
//   - preserve holds values that must always be present in the result,
//     regardless of what either side did.
//
// The merge applies whatever Notion changed since base onto Zotero's current
// state: values Notion added since base are added, values Notion removed
// since base are removed, and anything Zotero changed independently is left
// alone.
//
// Example:
//
//	base   = [A, B, C]
//	notion = [A, C, D]      // added D, removed B
//	zotero = [A, B, C, E]   // added E
//	result = [A, C, E, D]
//
// The result preserves a stable order: Zotero's current order first, then
// any newly-added values sorted ascending.
func ThreeWay(base, notionCurrent, zoteroCurrent []string, preserve map[string]struct{}) []string {
	baseSet := toSet(base)
	notionSet := toSet(notionCurrent)

	notionAdded := difference(notionSet, baseSet)
	notionRemoved := difference(baseSet, notionSet)

	result := toSet(zoteroCurrent)
	union(result, notionAdded)
	subtract(result, notionRemoved)

	for v := range preserve {
		result[v] = struct{}{}
	}

	ordered := make([]string, 0, len(result))
	seen := make(map[string]struct{}, len(result))
	for _, v := range zoteroCurrent {
		if _, ok := result[v]; ok {
			if _, dup := seen[v]; !dup {
				ordered = append(ordered, v)
				seen[v] = struct{}{}
			}
		}
	}

	var newItems []string
	for v := range result {
		if _, ok := seen[v]; !ok {
			newItems = append(newItems, v)
		}
	}
	sort.Strings(newItems)
	ordered = append(ordered, newItems...)

	return ordered
}

func toSet(vs []string) map[string]struct{} {
	s := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		s[v] = struct{}{}
	}
	return s
}

func difference(a, b map[string]struct{}) map[string]struct{} {
	d := make(map[string]struct{})
	for v := range a {
		if _, ok := b[v]; !ok {
			d[v] = struct{}{}
		}
	}
	return d
}

func union(dst, src map[string]struct{}) {
	for v := range src {
		dst[v] = struct{}{}
	}
}

func subtract(dst, src map[string]struct{}) {
	for v := range src {
		delete(dst, v)
	}
}
