package tuning

import (
	"testing"
	"time"
)

func TestRegistryRouting(t *testing.T) {
	reg := NewRegistry()
	reg.Add(NewSupervisor("living", HeatingRadiator, physicsBaseline))
	reg.Add(NewSupervisor("attic", HeatingForcedAir, physicsBaseline))

	if _, ok := reg.Get("living"); !ok {
		t.Fatal("registered zone not found")
	}
	if _, ok := reg.Get("ghost"); ok {
		t.Fatal("unknown zone found")
	}

	all := reg.All()
	if len(all) != 2 || all[0].Zone() != "attic" || all[1].Zone() != "living" {
		t.Errorf("All() order = %v", []string{all[0].Zone(), all[1].Zone()})
	}

	if reg.Ingest("ghost", Sample{At: time.Now()}) {
		t.Error("sample for unknown zone was routed")
	}
	if !reg.Ingest("living", Sample{At: cycleEpoch, Measured: 19, Setpoint: 21}) {
		t.Error("sample for known zone was dropped")
	}
}

func TestRegistryHandleEvent(t *testing.T) {
	reg := NewRegistry()
	s := NewSupervisor("living", HeatingRadiator, physicsBaseline)
	reg.Add(s)

	at := cycleEpoch
	for _, event := range []string{
		"mode_change", "contact_open", "contact_closed",
		"humidity_pause", "humidity_resume", "outdoor_shift",
	} {
		if !reg.HandleEvent("living", event, at) {
			t.Errorf("event %q not routed", event)
		}
	}
	if reg.HandleEvent("living", "alien_signal", at) {
		t.Error("unknown event name was routed")
	}
	if reg.HandleEvent("ghost", "mode_change", at) {
		t.Error("event for unknown zone was routed")
	}

	if got := s.Status().Zone; got != "living" {
		t.Errorf("zone = %q", got)
	}
}

func TestRegistryAnalyzeAll(t *testing.T) {
	reg := NewRegistry()
	reg.Add(NewSupervisor("living", HeatingRadiator, physicsBaseline))
	reg.Add(NewSupervisor("attic", HeatingForcedAir, physicsBaseline))

	out := reg.AnalyzeAll()
	if len(out) != 2 {
		t.Fatalf("AnalyzeAll returned %d zones", len(out))
	}
	for zone, res := range out {
		if res.Decision.Allowed {
			t.Errorf("zone %s allowed with no cycles: %+v", zone, res.Decision)
		}
	}
}
