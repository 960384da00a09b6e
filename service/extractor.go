package service

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Fullstackdeveloper4545/aws/model"
)

// aliasPairs are the field-name pairings the vendor has been observed to
// use, in priority order. The first pair with both values present wins
// for a given object node.
var aliasPairs = [][2]string{
	{"equipmentInitial", "equipmentNumber"},
	{"equipment_initial", "equipment_number"},
	{"eqInit", "eqNbr"},
	{"carInitial", "carNumber"},
}

// ExtractPairs walks an arbitrary JSON document and recovers an ordered,
// deduplicated list of equipment pairs. The upstream schema is not
// contractually stable, so known aliases are tried first across the whole
// document; only when no alias matches anywhere does a substring
// heuristic run. Values are kept raw; normalization happens at the point
// of use.
func ExtractPairs(doc any) []model.EquipmentPair {
	pairs := collect(doc, matchAliases)
	if len(pairs) == 0 {
		pairs = collect(doc, matchHeuristic)
	}
	return dedupe(pairs)
}

type nodeMatcher func(obj map[string]any) (model.EquipmentPair, bool)

func collect(node any, match nodeMatcher) []model.EquipmentPair {
	var out []model.EquipmentPair

	switch v := node.(type) {
	case map[string]any:
		if pair, ok := match(v); ok {
			out = append(out, pair)
		}
		for _, key := range sortedKeys(v) {
			out = append(out, collect(v[key], match)...)
		}
	case []any:
		for _, item := range v {
			out = append(out, collect(item, match)...)
		}
	}

	return out
}

func matchAliases(obj map[string]any) (model.EquipmentPair, bool) {
	for _, alias := range aliasPairs {
		initial := stringValue(obj[alias[0]])
		number := stringValue(obj[alias[1]])
		if initial != "" && number != "" {
			return model.EquipmentPair{Initial: initial, Number: number}, true
		}
	}
	return model.EquipmentPair{}, false
}

// matchHeuristic pairs one key containing "init" with one containing
// "number" or "nbr". Last-resort discovery for shapes we have not seen.
func matchHeuristic(obj map[string]any) (model.EquipmentPair, bool) {
	var initial, number string
	for _, key := range sortedKeys(obj) {
		lower := strings.ToLower(key)
		value := stringValue(obj[key])
		if value == "" {
			continue
		}
		switch {
		case initial == "" && strings.Contains(lower, "init"):
			initial = value
		case number == "" && (strings.Contains(lower, "number") || strings.Contains(lower, "nbr")):
			number = value
		}
	}
	if initial != "" && number != "" {
		return model.EquipmentPair{Initial: initial, Number: number}, true
	}
	return model.EquipmentPair{}, false
}

func dedupe(pairs []model.EquipmentPair) []model.EquipmentPair {
	seen := make(map[model.EquipmentPair]bool, len(pairs))
	out := make([]model.EquipmentPair, 0, len(pairs))
	for _, p := range pairs {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// sortedKeys keeps the walk deterministic across runs.
func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	}
	return ""
}
