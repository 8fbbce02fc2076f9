package rarity

import "goflare.io/rarity/internal/models"

// 定義常見錯誤
var (
	// ErrInvalidRequest is returned for missing or malformed caller input.
	ErrInvalidRequest = models.ErrInvalidRequest
	// ErrUpstream is returned when the marketplace call fails or answers with a non-success status.
	ErrUpstream = models.ErrUpstream
	// ErrInvalidResponse is returned when the marketplace payload lacks success or nfts.
	ErrInvalidResponse = models.ErrInvalidResponse
	// ErrRarityComputation is returned when a collection refresh cannot produce a ranking.
	ErrRarityComputation = models.ErrRarityComputation
)

type (
	// UpstreamError carries the marketplace status code, zero for transport failures.
	UpstreamError = models.UpstreamError
	// RequestError names the offending request parameter.
	RequestError = models.RequestError
)
