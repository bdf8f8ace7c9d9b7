package chunk

import "context"

// Chunk is a contiguous slice of rows of a larger dataset.
type Chunk[T any] struct {
	// Index is the 0-based position of the chunk.
	Index int

	// StartRow is the index of the first row in the original dataset.
	StartRow int

	// Rows shares memory with the original dataset.
	Rows [][]T
}

// Split partitions rows into contiguous chunks of at most maxRows rows, in
// order. The last chunk may be shorter. maxRows < 1 yields a single chunk.
// Concatenating the chunks' Rows reproduces rows exactly.
func Split[T any](rows [][]T, maxRows int) []Chunk[T] {
	if len(rows) == 0 {
		return nil
	}
	if maxRows < 1 {
		maxRows = len(rows)
	}

	chunks := make([]Chunk[T], 0, (len(rows)+maxRows-1)/maxRows)
	for start := 0; start < len(rows); start += maxRows {
		end := min(start+maxRows, len(rows))
		chunks = append(chunks, Chunk[T]{
			Index:    len(chunks),
			StartRow: start,
			Rows:     rows[start:end:end],
		})
	}
	return chunks
}

// SplitByCells is Split with an additional bound of maxCells cells per chunk,
// counted over the actual (possibly ragged) row lengths. A single row wider
// than maxCells gets a chunk of its own. maxCells < 1 disables the bound.
func SplitByCells[T any](rows [][]T, maxRows, maxCells int) []Chunk[T] {
	var chunks []Chunk[T]
	walkChunks(rows, maxRows, maxCells, func(c Chunk[T]) bool {
		chunks = append(chunks, c)
		return true
	})
	return chunks
}

// Stream yields the chunks of Split(rows, maxRows) over a channel. The
// channel is closed after the last chunk or once ctx is done.
func Stream[T any](ctx context.Context, rows [][]T, maxRows int) <-chan Chunk[T] {
	return StreamByCells(ctx, rows, maxRows, 0)
}

// StreamByCells yields the chunks of SplitByCells(rows, maxRows, maxCells)
// over a channel, computing each boundary only when the consumer is ready.
// The channel is closed after the last chunk or once ctx is done.
func StreamByCells[T any](ctx context.Context, rows [][]T, maxRows, maxCells int) <-chan Chunk[T] {
	out := make(chan Chunk[T])
	go func() {
		defer close(out)
		walkChunks(rows, maxRows, maxCells, func(c Chunk[T]) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out
}

// walkChunks calls yield for each chunk in order until it returns false.
func walkChunks[T any](rows [][]T, maxRows, maxCells int, yield func(Chunk[T]) bool) {
	if len(rows) == 0 {
		return
	}
	if maxRows < 1 {
		maxRows = len(rows)
	}

	idx, start, cells := 0, 0, 0
	for i, row := range rows {
		n := i - start
		full := n >= maxRows || (maxCells > 0 && n > 0 && cells+len(row) > maxCells)
		if full {
			if !yield(Chunk[T]{Index: idx, StartRow: start, Rows: rows[start:i:i]}) {
				return
			}
			idx, start, cells = idx+1, i, 0
		}
		cells += len(row)
	}
	end := len(rows)
	yield(Chunk[T]{Index: idx, StartRow: start, Rows: rows[start:end:end]})
}
