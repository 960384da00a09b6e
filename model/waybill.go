package model

import (
	"strings"
	"time"
	"unicode"
)

// EquipmentPair is the two-part identifier for a physical rail asset:
// a short alphabetic initial (reporting mark) and a numeric code.
type EquipmentPair struct {
	Initial string `json:"equipment_initial"`
	Number  string `json:"equipment_number"`
}

// Normalize returns the canonical form of the pair: uppercased,
// whitespace-trimmed initial and a digits-only number. Extraction keeps
// raw values; callers normalize at the point of use.
func (p EquipmentPair) Normalize() EquipmentPair {
	number := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, p.Number)
	return EquipmentPair{
		Initial: strings.ToUpper(strings.TrimSpace(p.Initial)),
		Number:  number,
	}
}

// String renders the pair the way the upstream API displays it, e.g. "BNSF12345".
func (p EquipmentPair) String() string {
	return p.Initial + p.Number
}

// WaybillRecord is one successfully fetched detail record. Records are
// immutable after creation.
type WaybillRecord struct {
	ID        string        `json:"id"`
	Equipment EquipmentPair `json:"equipment"`
	Payload   any           `json:"payload,omitempty"`
	FetchedAt time.Time     `json:"fetched_at"`
}
