package rarity

import (
	"strings"

	"goflare.io/rarity/internal/models"
)

const ipfsScheme = "ipfs://"

// buildImageIndex maps every serial to its name and image. Later duplicates win.
func buildImageIndex(records []models.NFTRecord, gateway string) models.ImageIndex {
	index := make(models.ImageIndex, len(records))
	for _, rec := range records {
		index[rec.SerialID] = models.ImageInfo{
			Name:  rec.Name,
			Image: resolveImage(rec.Image, gateway),
		}
	}
	return index
}

// resolveImage rewrites ipfs://<cid> to <gateway>/<cid> when a gateway is configured.
func resolveImage(image, gateway string) string {
	if gateway == "" || !strings.HasPrefix(image, ipfsScheme) {
		return image
	}
	path := strings.TrimPrefix(strings.TrimPrefix(image, ipfsScheme), "ipfs/")
	return strings.TrimRight(gateway, "/") + "/" + path
}
