package service

import (
	"encoding/json"
	"testing"

	"github.com/Fullstackdeveloper4545/aws/model"
)

func mustParse(t *testing.T, raw string) any {
	t.Helper()
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("Failed to parse fixture: %v", err)
	}
	return doc
}

func TestExtractPairsAlias(t *testing.T) {
	doc := mustParse(t, `[{"eqInit":"BNSF","eqNbr":"001"},{"eqInit":"BNSF","eqNbr":"001"}]`)

	pairs := ExtractPairs(doc)
	if len(pairs) != 1 {
		t.Fatalf("Expected 1 deduplicated pair, got %d", len(pairs))
	}
	if pairs[0].Initial != "BNSF" || pairs[0].Number != "001" {
		t.Errorf("Expected BNSF/001, got %s/%s", pairs[0].Initial, pairs[0].Number)
	}
}

func TestExtractPairsHeuristicFallback(t *testing.T) {
	doc := mustParse(t, `{"cars":[{"initial":"UP","number":"00042A"}]}`)

	pairs := ExtractPairs(doc)
	if len(pairs) != 1 {
		t.Fatalf("Expected 1 pair via heuristic, got %d", len(pairs))
	}
	if pairs[0].Initial != "UP" || pairs[0].Number != "00042A" {
		t.Errorf("Expected UP/00042A, got %s/%s", pairs[0].Initial, pairs[0].Number)
	}
}

func TestExtractPairsAliasDisablesHeuristic(t *testing.T) {
	// One alias match anywhere means the heuristic pass never runs, so
	// the heuristic-only node must not be picked up.
	doc := mustParse(t, `{
		"matched": {"equipmentInitial": "BNSF", "equipmentNumber": "100"},
		"loose": {"someInit": "UP", "someNumber": "200"}
	}`)

	pairs := ExtractPairs(doc)
	if len(pairs) != 1 {
		t.Fatalf("Expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].Initial != "BNSF" {
		t.Errorf("Expected alias pair BNSF, got %s", pairs[0].Initial)
	}
}

func TestExtractPairsAliasPriority(t *testing.T) {
	// First alias pair with both values present wins for the node.
	doc := mustParse(t, `{
		"equipmentInitial": "BNSF", "equipmentNumber": "100",
		"eqInit": "UP", "eqNbr": "200"
	}`)

	pairs := ExtractPairs(doc)
	if len(pairs) != 1 {
		t.Fatalf("Expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].Initial != "BNSF" || pairs[0].Number != "100" {
		t.Errorf("Expected BNSF/100, got %s/%s", pairs[0].Initial, pairs[0].Number)
	}
}

func TestExtractPairsNestedStructures(t *testing.T) {
	doc := mustParse(t, `{
		"data": {
			"trains": [
				{"consist": [{"eqInit": "BNSF", "eqNbr": "1"}, {"eqInit": "UP", "eqNbr": "2"}]},
				{"consist": [{"eqInit": "CSXT", "eqNbr": "3"}]}
			]
		}
	}`)

	pairs := ExtractPairs(doc)
	if len(pairs) != 3 {
		t.Fatalf("Expected 3 pairs, got %d", len(pairs))
	}
}

func TestExtractPairsNumericValues(t *testing.T) {
	doc := mustParse(t, `[{"equipmentInitial": "BNSF", "equipmentNumber": 4271}]`)

	pairs := ExtractPairs(doc)
	if len(pairs) != 1 {
		t.Fatalf("Expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].Number != "4271" {
		t.Errorf("Expected number 4271, got %s", pairs[0].Number)
	}
}

func TestExtractPairsEmptyDocument(t *testing.T) {
	for _, raw := range []string{`{}`, `[]`, `{"unrelated": [1, 2, 3]}`, `"just a string"`} {
		pairs := ExtractPairs(mustParse(t, raw))
		if len(pairs) != 0 {
			t.Errorf("Expected no pairs for %s, got %d", raw, len(pairs))
		}
	}
}

func TestNormalizePair(t *testing.T) {
	pair := model.EquipmentPair{Initial: " up ", Number: "A42"}.Normalize()
	if pair.Initial != "UP" {
		t.Errorf("Expected initial UP, got %q", pair.Initial)
	}
	if pair.Number != "42" {
		t.Errorf("Expected number 42, got %q", pair.Number)
	}
}
