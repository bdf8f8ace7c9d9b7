// Package chunk processes large 2-D datasets in bounded row slices to cap
// peak memory and request payload size.
//
// A dataset is chunked when it has more rows than MaxRowsInMemory, more
// columns than MaxColumnsInMemory, or more cells than LargeDatasetCellThreshold.
//
// Example usage:
//
//	p, _ := chunk.NewProcessor(chunk.DefaultConfig())
//	results, err := chunk.Process(ctx, p, rows, func(ctx context.Context, c chunk.Chunk[any]) (int, error) {
//		return writeRows(ctx, c.Rows)
//	})
//
// The processor:
//   - Splits rows into contiguous chunks bounded by rows and cells
//   - Runs chunks sequentially, streamed, or on a bounded worker pool
//   - Returns results in chunk order regardless of completion order
//   - Stops at the first error
package chunk
