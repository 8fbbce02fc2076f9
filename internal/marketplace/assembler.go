package marketplace

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"goflare.io/rarity/internal/models"
)

// Assembler pulls a whole collection page by page.
type Assembler struct {
	fetcher    PageFetcher
	pageSize   int
	maxRecords int
	logger     *zap.Logger
}

// NewAssembler creates a new Assembler instance.
func NewAssembler(fetcher PageFetcher, pageSize, maxRecords int, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		fetcher:    fetcher,
		pageSize:   pageSize,
		maxRecords: maxRecords,
		logger:     logger,
	}
}

// FetchCollection fetches pages 1, 2, ... in order until a short page or the record cap.
// Any page failure aborts the whole assembly.
func (a *Assembler) FetchCollection(ctx context.Context, apiKey, token string) ([]models.NFTRecord, error) {
	var all []models.NFTRecord

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, models.NewTransportError(err)
		}

		records, err := a.fetcher.FetchPage(ctx, apiKey, token, page, a.pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		all = append(all, records...)

		if len(records) < a.pageSize {
			break
		}
		if len(all) >= a.maxRecords {
			a.logger.Warn("Collection assembly hit the record cap",
				zap.String("token", token), zap.Int("cap", a.maxRecords), zap.Int("pages", page))
			break
		}
	}

	if len(all) > a.maxRecords {
		all = all[:a.maxRecords]
	}

	a.logger.Debug("Collection assembled", zap.String("token", token), zap.Int("records", len(all)))
	return all, nil
}
