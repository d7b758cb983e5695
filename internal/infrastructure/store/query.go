package store

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// matches reports whether every filter equals the corresponding top-level
// field of data, comparing JSON encodings.
func matches(data json.RawMessage, filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	for _, f := range filters {
		got, ok := fields[f.Field]
		if !ok {
			return false
		}
		want, err := json.Marshal(f.Value)
		if err != nil {
			return false
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, got); err != nil {
			return false
		}
		if !bytes.Equal(compact.Bytes(), want) {
			return false
		}
	}
	return true
}

// orderAndLimit sorts docs by q.OrderBy (ties broken by id) and truncates to q.Limit.
func orderAndLimit(docs []Document, q Query) []Document {
	if q.OrderBy != "" {
		keys := make(map[string]any, len(docs))
		for _, d := range docs {
			keys[d.ID] = fieldValue(d.Data, q.OrderBy)
		}
		sort.SliceStable(docs, func(i, j int) bool {
			c := compareValues(keys[docs[i].ID], keys[docs[j].ID])
			if c == 0 {
				c = strings.Compare(docs[i].ID, docs[j].ID)
			}
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

func fieldValue(data json.RawMessage, field string) any {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields[field]
}

// compareValues orders nil first, then numbers, timestamps and strings.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}

	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		ta, errA := time.Parse(time.RFC3339Nano, sa)
		tb, errB := time.Parse(time.RFC3339Nano, sb)
		if errA == nil && errB == nil {
			return ta.Compare(tb)
		}
		return strings.Compare(sa, sb)
	}
	return 0
}
