package notifier

import (
	"context"
	"sort"
	"sync"

	"riskguard/internal/decision"
	"riskguard/internal/logger"
)

// Dispatcher fans one decision out to named recipients concurrently.
type Dispatcher struct {
	mu         sync.RWMutex
	recipients map[string]TextNotifier
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{recipients: make(map[string]TextNotifier)}
}

func (d *Dispatcher) Add(name string, n TextNotifier) {
	if n == nil {
		return
	}
	d.mu.Lock()
	d.recipients[name] = n
	d.mu.Unlock()
}

func (d *Dispatcher) Recipients() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.recipients))
	for name := range d.recipients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Notify renders rec once and sends it to every recipient. The result has
// one entry per recipient, nil on success.
func (d *Dispatcher) Notify(ctx context.Context, rec decision.Record) map[string]error {
	text := FromDecision(rec).RenderMarkdown()
	d.mu.RLock()
	targets := make(map[string]TextNotifier, len(d.recipients))
	for k, v := range d.recipients {
		targets[k] = v
	}
	d.mu.RUnlock()

	results := make(map[string]error, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, n := range targets {
		name, n := name, n
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := n.SendText(ctx, text)
			if err != nil {
				logger.Warnf("[notifier] %s: %v", name, err)
			}
			mu.Lock()
			results[name] = err
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}
