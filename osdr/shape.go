package osdr

import "sort"

// Shape identifies which known structure an upstream payload has.
type Shape int

const (
	// ShapeUnrecognized matches none of the known structures.
	ShapeUnrecognized Shape = iota
	// ShapeNestedHits is the search-engine form {"hits": {"hits": [...], "total": n}}.
	ShapeNestedHits
	// ShapeHitList is {"hits": [...]}.
	ShapeHitList
	// ShapeStudyList is a bare top-level array of study objects.
	ShapeStudyList
	// ShapeStudyCollection is {"studies": [...]}.
	ShapeStudyCollection
	// ShapeStudyMap is {"studies": {"<id>": {...}}}.
	ShapeStudyMap
	// ShapeResultList is {"results": [...]}.
	ShapeResultList
)

func (s Shape) String() string {
	switch s {
	case ShapeNestedHits:
		return "nested_hits"
	case ShapeHitList:
		return "hit_list"
	case ShapeStudyList:
		return "study_list"
	case ShapeStudyCollection:
		return "study_collection"
	case ShapeStudyMap:
		return "study_map"
	case ShapeResultList:
		return "result_list"
	default:
		return "unrecognized"
	}
}

// Payload is a decoded upstream response tagged with its shape.
type Payload struct {
	Shape Shape
	// Items holds the raw objects of the matched collection. Non-object
	// entries are skipped. For ShapeStudyMap each item carries its map key
	// under "id".
	Items []map[string]any
	// Total is the upstream's own count of matches when it reports one.
	Total    int
	HasTotal bool
}

// Match inspects a decoded JSON document and reports which known shape it
// has. The order of checks is fixed: nested hits, hit list, top-level list,
// studies collection, results list.
func Match(raw any) Payload {
	switch doc := raw.(type) {
	case []any:
		return Payload{Shape: ShapeStudyList, Items: objects(doc)}
	case map[string]any:
		return matchObject(doc)
	default:
		return Payload{Shape: ShapeUnrecognized}
	}
}

func matchObject(doc map[string]any) Payload {
	switch hits := doc["hits"].(type) {
	case map[string]any:
		if list, ok := hits["hits"].([]any); ok {
			p := Payload{Shape: ShapeNestedHits, Items: objects(list)}
			p.Total, p.HasTotal = totalOf(hits["total"])
			return p
		}
	case []any:
		p := Payload{Shape: ShapeHitList, Items: objects(hits)}
		p.Total, p.HasTotal = topLevelTotal(doc)
		return p
	}

	switch studies := doc["studies"].(type) {
	case []any:
		p := Payload{Shape: ShapeStudyCollection, Items: objects(studies)}
		p.Total, p.HasTotal = topLevelTotal(doc)
		return p
	case map[string]any:
		ids := make([]string, 0, len(studies))
		for id := range studies {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		items := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			info, ok := studies[id].(map[string]any)
			if !ok {
				continue
			}
			item := make(map[string]any, len(info)+1)
			for k, v := range info {
				item[k] = v
			}
			item["id"] = id
			items = append(items, item)
		}
		p := Payload{Shape: ShapeStudyMap, Items: items}
		p.Total, p.HasTotal = topLevelTotal(doc)
		return p
	}

	if results, ok := doc["results"].([]any); ok {
		p := Payload{Shape: ShapeResultList, Items: objects(results)}
		p.Total, p.HasTotal = topLevelTotal(doc)
		return p
	}
	return Payload{Shape: ShapeUnrecognized}
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// totalOf accepts either a number or {"value": n}.
func totalOf(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case map[string]any:
		if n, ok := t["value"].(float64); ok {
			return int(n), true
		}
	}
	return 0, false
}

func topLevelTotal(doc map[string]any) (int, bool) {
	if n, ok := totalOf(doc["total"]); ok {
		return n, true
	}
	return totalOf(doc["total_hits"])
}
