package utils

// TotalPages returns ceil(total/limit). limit must be positive.
func TotalPages(total, limit int) int {
	if total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// PageBounds returns the [start, end) window of a 1-based page, clamped to total.
// A page past the end yields an empty window at total.
func PageBounds(total, page, limit int) (start, end int) {
	if page < 1 || page > total/limit+1 {
		return total, total
	}
	start = (page - 1) * limit
	if start > total {
		return total, total
	}
	end = start + limit
	if end > total {
		end = total
	}
	return start, end
}
