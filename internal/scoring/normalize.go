// Package scoring computes trait frequencies and rarity ranks for a collection snapshot.
package scoring

import (
	"strings"

	"goflare.io/rarity/internal/models"
)

const (
	headTrait  = "head"
	crownValue = "crown"
)

// Normalize returns copies of records with the known upstream trait defects repaired.
//
// Only head/crown is rewritten: the marketplace capitalises that value inconsistently, which would
// otherwise split one trait into several frequency buckets. Every other attribute passes through.
func Normalize(records []models.NFTRecord) []models.NFTRecord {
	out := make([]models.NFTRecord, len(records))
	for i, rec := range records {
		out[i] = NormalizeRecord(rec)
	}
	return out
}

// NormalizeRecord returns a copy of rec with its attributes normalized.
func NormalizeRecord(rec models.NFTRecord) models.NFTRecord {
	if rec.Attributes != nil {
		attrs := make([]models.Attribute, len(rec.Attributes))
		for i, attr := range rec.Attributes {
			attrs[i] = normalizeAttribute(attr)
		}
		rec.Attributes = attrs
	}
	return rec
}

func normalizeAttribute(attr models.Attribute) models.Attribute {
	if strings.ToLower(attr.TraitType) == headTrait && strings.ToLower(attr.Value) == crownValue {
		attr.Value = crownValue
	}
	return attr
}
