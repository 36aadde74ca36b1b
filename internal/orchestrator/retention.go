package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// Archive stores one conversation through the configured archiver.
func (p *Planner) Archive(id string) error {
	conv, err := p.Conversation(id)
	if err != nil {
		return err
	}
	if p.opts.archiver == nil {
		return fmt.Errorf("archive %s: no archiver configured", id)
	}
	if err := p.opts.archiver.ArchiveConversation(conv.Record()); err != nil {
		return fmt.Errorf("archive %s: %w", id, err)
	}
	return nil
}

// Sweep archives and forgets terminal conversations last updated before
// now minus the retention window. A conversation whose archival fails is
// kept for the next sweep. It returns the number of conversations removed.
func (p *Planner) Sweep(now time.Time) int {
	cutoff := now.Add(-p.opts.retention)

	var expired []*Conversation
	for _, conv := range p.Conversations() {
		conv.mu.RLock()
		done := conv.status.Terminal() && !conv.running && !conv.updatedAt.After(cutoff)
		conv.mu.RUnlock()
		if done {
			expired = append(expired, conv)
		}
	}

	removed := 0
	for _, conv := range expired {
		if p.opts.archiver != nil {
			if err := p.opts.archiver.ArchiveConversation(conv.Record()); err != nil {
				debugLog("[planner.Sweep] keeping %s: archive failed: %v", conv.id, err)
				continue
			}
		}
		p.mu.Lock()
		delete(p.conversations, conv.id)
		p.mu.Unlock()
		removed++
	}
	if removed > 0 {
		debugLog("[planner.Sweep] removed %d conversation(s) older than %s", removed, cutoff.Format(time.RFC3339))
	}
	return removed
}

// StartJanitor runs Sweep every interval until ctx is done.
func (p *Planner) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Sweep(p.opts.now())
			}
		}
	}()
}
