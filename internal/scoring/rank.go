package scoring

import (
	"fmt"
	"slices"

	"goflare.io/rarity/internal/models"
)

// Score returns the sum of inverse frequencies of rec's attributes.
// The table must include rec's own contribution.
func Score(rec models.NFTRecord, table FrequencyTable) (float64, error) {
	var score float64
	for _, attr := range rec.Attributes {
		n := table[attr.Key()]
		if n <= 0 {
			return 0, fmt.Errorf("serial %d: no frequency for %q", rec.SerialID, attr.Key())
		}
		score += 1 / float64(n)
	}
	return score, nil
}

// Rank scores records against table and orders them rarest first.
// Equal scores keep their input order. Ranks are 1..len(records) without gaps.
func Rank(records []models.NFTRecord, table FrequencyTable) ([]models.RankedNFTRecord, error) {
	ranked := make([]models.RankedNFTRecord, len(records))
	for i, rec := range records {
		score, err := Score(rec, table)
		if err != nil {
			return nil, err
		}
		ranked[i] = models.RankedNFTRecord{
			SerialID:        rec.SerialID,
			Name:            rec.Name,
			Image:           rec.Image,
			Attributes:      rec.Attributes,
			OriginalRarity:  rec.Rarity,
			OriginalRank:    rec.RarityRank,
			CorrectedRarity: score,
		}
	}

	slices.SortStableFunc(ranked, func(a, b models.RankedNFTRecord) int {
		switch {
		case a.CorrectedRarity > b.CorrectedRarity:
			return -1
		case a.CorrectedRarity < b.CorrectedRarity:
			return 1
		default:
			return 0
		}
	})

	size := float64(len(ranked))
	for i := range ranked {
		ranked[i].CorrectedRank = i + 1
		ranked[i].RarityPct = float64(i+1) / size * 100
	}
	return ranked, nil
}

// Compute runs normalize, tabulate and rank over a raw upstream collection.
// Any failure is reported as models.ErrRarityComputation.
func Compute(records []models.NFTRecord) (ranked []models.RankedNFTRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			ranked = nil
			err = models.ComputationError(fmt.Errorf("panic: %v", r))
		}
	}()

	normalized := Normalize(records)
	table := Tabulate(normalized)

	ranked, err = Rank(normalized, table)
	if err != nil {
		return nil, models.ComputationError(err)
	}
	return ranked, nil
}
