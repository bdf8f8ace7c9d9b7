// Package batch plans how independent range requests are grouped into batch
// calls to the remote tabular API.
package batch

import "fmt"

// Kind distinguishes reads from writes. The two never share a batch.
type Kind int

const (
	Read Kind = iota
	Write
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Request is one logical range operation.
type Request struct {
	// Target is the range, treated as an opaque identifier.
	Target string

	// Group is the batching key, typically the spreadsheet ID. Requests with
	// different groups never share a batch.
	Group string

	Kind Kind

	// Payload is the write data; nil for reads. It is carried through untouched.
	Payload any
}

// Batch is an ordered set of requests sent in one remote call.
type Batch struct {
	Group    string
	Kind     Kind
	Requests []Request
}

// Len returns the number of requests in the batch.
func (b Batch) Len() int { return len(b.Requests) }

// Targets returns the targets in batch order.
func (b Batch) Targets() []string {
	out := make([]string, len(b.Requests))
	for i, r := range b.Requests {
		out[i] = r.Target
	}
	return out
}
