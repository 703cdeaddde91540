package pipeline

// SplitChunks splits text into contiguous substrings of at most limit runes,
// preserving order and content exactly. Splitting on rune boundaries keeps
// multi-byte characters intact. Empty text or a non-positive limit yields nil.
func SplitChunks(text string, limit int) []string {
	if text == "" || limit <= 0 {
		return nil
	}

	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}

	return chunks
}
