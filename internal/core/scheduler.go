package core

// Chunk splits items into consecutive chunks of at most chunkSize. A
// non-positive size yields a single chunk.
func Chunk[T any](items []T, chunkSize int) [][]T {
	if chunkSize <= 0 {
		return [][]T{items}
	}
	var chunks [][]T
	for i := 0; i < len(items); i += chunkSize {
		end := i + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}
