package permission

import (
	"context"
	"sync"
)

// ReportedPrompter answers with whatever the operator's client last
// reported. The HTTP surface calls Report from the handler that receives
// the user gesture, then drives Gate.Acquire.
type ReportedPrompter struct {
	mu       sync.Mutex
	reported bool
	granted  bool
}

func NewReportedPrompter() *ReportedPrompter { return &ReportedPrompter{} }

func (p *ReportedPrompter) Report(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reported = true
	p.granted = granted
}

// RequestAudio returns false when the client has not reported anything.
func (p *ReportedPrompter) RequestAudio(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reported && p.granted, nil
}
