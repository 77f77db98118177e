// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import "sync"

// runGroup collects the process's top-level loops (metrics server,
// health server, and the selected mode's runner) and waits for all of
// them, returning the first non-nil error. Mirrors (A)'s "fans out to
// all long-running loops" contract: any one loop's error cancels the
// shared shutdown context, and the process exits once the others have
// unwound. A loop that returns nil cancels nothing.
type runGroup struct {
	wg       sync.WaitGroup
	mu       sync.Mutex
	firstErr error
	cancel   func()
}

func newRunGroup(cancel func()) *runGroup {
	return &runGroup{cancel: cancel}
}

func (g *runGroup) spawn(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.mu.Lock()
			if g.firstErr == nil {
				g.firstErr = err
			}
			g.mu.Unlock()
			g.cancel()
		}
	}()
}

func (g *runGroup) wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.firstErr
}
