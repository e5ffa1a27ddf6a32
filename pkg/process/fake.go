package process

import (
	"context"
	"sync"
)

// Fake is a Runner that records requests and answers them from Handler.
// A nil Handler returns a successful empty result.
type Fake struct {
	mu       sync.Mutex
	Requests []Request
	Handler  func(req Request) (*Result, error)
}

// Run records req and delegates to Handler.
func (f *Fake) Run(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.Requests = append(f.Requests, req)
	f.mu.Unlock()

	if f.Handler == nil {
		return &Result{}, nil
	}
	return f.Handler(req)
}

// Commands returns the Command field of every recorded request.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Requests))
	for _, r := range f.Requests {
		out = append(out, r.Command)
	}
	return out
}
