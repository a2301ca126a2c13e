package tuning

import (
	"sort"
	"sync"
	"time"
)

// Registry holds the per-zone supervisors. Zones are independent: the
// registry only routes, it never coordinates across zones.
type Registry struct {
	mu    sync.RWMutex
	zones map[string]*Supervisor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{zones: make(map[string]*Supervisor)}
}

// Add registers a zone supervisor, replacing any previous one for the zone.
func (r *Registry) Add(s *Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones[s.Zone()] = s
}

// Get looks up a zone supervisor.
func (r *Registry) Get(zone string) (*Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.zones[zone]
	return s, ok
}

// All returns the supervisors sorted by zone id.
func (r *Registry) All() []*Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Supervisor, 0, len(r.zones))
	for _, s := range r.zones {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Zone() < out[j].Zone() })
	return out
}

// Ingest routes a sample to its zone. Returns false for unknown zones.
func (r *Registry) Ingest(zone string, sample Sample) bool {
	s, ok := r.Get(zone)
	if !ok {
		return false
	}
	s.Ingest(sample)
	return true
}

// HandleEvent routes an out-of-band signal to its zone. Returns false for
// unknown zones or event names.
func (r *Registry) HandleEvent(zone, event string, at time.Time) bool {
	s, ok := r.Get(zone)
	if !ok {
		return false
	}
	switch event {
	case "mode_change":
		s.ModeChanged()
	case "contact_open":
		s.SetPause(PauseContact, true)
	case "contact_closed":
		s.SetPause(PauseContact, false)
	case "humidity_pause":
		s.SetPause(PauseHumidity, true)
	case "humidity_resume":
		s.SetPause(PauseHumidity, false)
	case "outdoor_shift":
		s.OutdoorShift(at)
	default:
		return false
	}
	return true
}

// AnalyzeAll runs the learning analysis for every zone. Fan-out is
// per-zone with no ordering requirement between zones.
func (r *Registry) AnalyzeAll() map[string]AnalysisResult {
	out := make(map[string]AnalysisResult)
	for _, s := range r.All() {
		out[s.Zone()] = s.TriggerAnalysis()
	}
	return out
}
