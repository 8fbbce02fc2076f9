package scoring

import "goflare.io/rarity/internal/models"

// FrequencyTable maps "trait_type:value" to the number of attribute entries carrying it.
type FrequencyTable map[string]int

// Tabulate counts every attribute entry of records. Repeated entries on one item count once each.
func Tabulate(records []models.NFTRecord) FrequencyTable {
	table := make(FrequencyTable)
	for _, rec := range records {
		for _, attr := range rec.Attributes {
			table[attr.Key()]++
		}
	}
	return table
}

