package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"goflare.io/rarity/internal/models"
)

type collectionResponse struct {
	Success bool `json:"success"`
	*models.CollectionPage
}

type imagesResponse struct {
	Success bool                        `json:"success"`
	NFTs    map[string]models.ImageInfo `json:"nfts"`
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	Stats  any    `json:"stats,omitempty"`
}

// collectionRarity handles GET /collection-rarity
func (s *Server) collectionRarity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	apiKey, token := q.Get("apikey"), q.Get("token")
	if apiKey == "" || token == "" {
		s.writeError(w, r, http.StatusBadRequest, "Missing required parameters", "apikey and token are required")
		return
	}

	page, err := positiveParam(q.Get("page"), 1)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "Invalid page parameter", err.Error())
		return
	}
	limit, err := positiveParam(q.Get("limit"), s.opts.DefaultLimit)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "Invalid limit parameter", err.Error())
		return
	}

	result, err := s.service.CollectionRarity(r.Context(), apiKey, token, page, limit)
	if err != nil {
		if models.IsInvalidRequest(err) {
			s.writeError(w, r, http.StatusBadRequest, "Invalid request", err.Error())
			return
		}
		s.logger.Error("Failed to compute collection rarity",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("token", token),
			zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "Failed to compute collection rarity", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, collectionResponse{Success: true, CollectionPage: result})
}

// nftImages handles GET /nft-images
func (s *Server) nftImages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	apiKey, token := q.Get("apikey"), q.Get("token")
	if apiKey == "" || token == "" {
		s.writeError(w, r, http.StatusBadRequest, "Missing required parameters", "apikey and token are required")
		return
	}

	serials := parseSerials(q.Get("serials"))
	if len(serials) == 0 {
		s.writeError(w, r, http.StatusBadRequest, "Missing serials parameter", "serials must list at least one numeric id")
		return
	}

	images, err := s.service.NFTImages(r.Context(), apiKey, token, serials)
	if err != nil {
		if models.IsInvalidRequest(err) {
			s.writeError(w, r, http.StatusBadRequest, "Invalid request", err.Error())
			return
		}
		s.logger.Error("Failed to fetch NFT images",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("token", token),
			zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch NFT images: %v", err), "")
		return
	}

	nfts := make(map[string]models.ImageInfo, len(images))
	for serial, info := range images {
		nfts[strconv.Itoa(serial)] = info
	}
	s.writeJSON(w, http.StatusOK, imagesResponse{Success: true, NFTs: nfts})
}

// health handles GET /healthz
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.opts.Stats != nil {
		resp.Stats = s.opts.Stats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// notFound handles 404 responses
func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeError(w, r, http.StatusNotFound, "Not found", "the requested endpoint does not exist")
}

// writeJSON writes a JSON response. Only successful responses may be cached by clients.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	if status < http.StatusBadRequest {
		maxAge := int(s.opts.Config.ClientCacheMaxAge.Seconds())
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}

	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError writes standardized error response
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, title, message string) {
	s.writeJSON(w, status, errorResponse{
		Success:   false,
		Error:     title,
		Message:   message,
		RequestID: RequestID(r.Context()),
	})
}

// positiveParam parses an optional positive integer query parameter.
func positiveParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%q is not a positive integer", raw)
	}
	return n, nil
}

// parseSerials splits a comma separated list, dropping entries that are not integers.
func parseSerials(raw string) []int {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	serials := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		serials = append(serials, n)
	}
	return serials
}
