package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Attribute is a single (trait_type, value) pair of an NFT.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// UnmarshalJSON accepts upstream values encoded as strings, numbers or booleans.
func (a *Attribute) UnmarshalJSON(data []byte) error {
	var raw struct {
		TraitType string          `json:"trait_type"`
		Value     json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.TraitType = raw.TraitType
	a.Value = ""

	if len(raw.Value) == 0 || string(raw.Value) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw.Value, &s); err == nil {
		a.Value = s
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(raw.Value, &n); err == nil {
		a.Value = n.String()
		return nil
	}

	var b bool
	if err := json.Unmarshal(raw.Value, &b); err == nil {
		a.Value = strconv.FormatBool(b)
		return nil
	}

	return fmt.Errorf("unsupported attribute value %s for trait %q", raw.Value, raw.TraitType)
}

// Key returns the frequency table key of the attribute.
func (a Attribute) Key() string {
	return a.TraitType + ":" + a.Value
}

// NFTRecord is one item of a collection as returned by the marketplace.
type NFTRecord struct {
	SerialID   int         `json:"serialId"`
	Name       string      `json:"name"`
	Image      string      `json:"image"`
	Attributes []Attribute `json:"attributes"`
	Rarity     float64     `json:"rarity,omitempty"`
	RarityRank int         `json:"rarityRank,omitempty"`
}

// RankedNFTRecord is an NFTRecord with the recomputed rarity and rank.
type RankedNFTRecord struct {
	SerialID        int         `json:"serialId"`
	Name            string      `json:"name"`
	Image           string      `json:"image"`
	Attributes      []Attribute `json:"attributes"`
	OriginalRarity  float64     `json:"originalRarity"`
	OriginalRank    int         `json:"originalRank"`
	CorrectedRarity float64     `json:"correctedRarity"`
	CorrectedRank   int         `json:"correctedRank"`
	RarityPct       float64     `json:"rarityPct"`
}

// ImageInfo is the display name and image reference of a serial.
type ImageInfo struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// ImageIndex maps serial ids to their display info.
type ImageIndex map[int]ImageInfo

// CollectionPage is one page of a ranked collection.
type CollectionPage struct {
	NFTs       []RankedNFTRecord `json:"nfts"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalPages int               `json:"totalPages"`
}
