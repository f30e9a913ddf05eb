// Package mock provides a test double for the asr.Engine interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxstudio/pkg/provider/asr"
)

var _ asr.Engine = (*Engine)(nil)

// Engine is a mock implementation of asr.Engine.
type Engine struct {
	mu sync.Mutex

	// Results is returned by Generate.
	Results []asr.Result

	// Err, if non-nil, is returned by Generate.
	Err error

	// Calls records every input passed to Generate.
	Calls []asr.Input
}

// Generate implements asr.Engine.
func (e *Engine) Generate(_ context.Context, in asr.Input) ([]asr.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, in)
	if e.Err != nil {
		return nil, e.Err
	}
	return append([]asr.Result(nil), e.Results...), nil
}

// CallCount returns the number of Generate calls so far.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}
