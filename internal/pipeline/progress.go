package pipeline

import (
	"sync"
	"time"
)

// Summary is the outcome of one run.
type Summary struct {
	RunID      string       `json:"run_id"`
	Service    string       `json:"service,omitempty"`
	Catalog    string       `json:"catalog,omitempty"`
	Matched    int          `json:"matched"`
	Skipped    int          `json:"skipped"`
	Downloaded int          `json:"downloaded"`
	Clipped    int          `json:"clipped"`
	Ingested   int          `json:"ingested"`
	Duplicates int          `json:"duplicates"`
	Failed     int          `json:"failed"`
	Failures   []*ItemError `json:"failures,omitempty"`
	Started    time.Time    `json:"started"`
	Finished   time.Time    `json:"finished,omitzero"`
}

// Progress is the live view of a run, read by the ops server while the
// pipeline writes it.
type Progress struct {
	mu      sync.Mutex
	s       Summary
	current int64
	done    bool
}

type statusView struct {
	Summary
	CurrentItem int64 `json:"current_item,omitempty"`
}

// Status implements health.StatusReporter.
func (p *Progress) Status() (bool, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.s
	s.Failures = append([]*ItemError(nil), p.s.Failures...)
	return p.done, statusView{Summary: s, CurrentItem: p.current}
}

func (p *Progress) Snapshot() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.s
	s.Failures = append([]*ItemError(nil), p.s.Failures...)
	return s
}

func (p *Progress) update(fn func(s *Summary)) {
	p.mu.Lock()
	fn(&p.s)
	p.mu.Unlock()
}

func (p *Progress) setCurrent(id int64) {
	p.mu.Lock()
	p.current = id
	p.mu.Unlock()
}

func (p *Progress) finish() Summary {
	p.mu.Lock()
	p.done = true
	p.current = 0
	p.s.Finished = time.Now().UTC()
	p.mu.Unlock()
	return p.Snapshot()
}
