package stats

import "testing"

func TestNewRegistryRegistersCollectors(t *testing.T) {
	r := NewRegistry()
	mfs, err := r.Reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	// Nothing has been observed yet, but the gauge always reports (it has
	// no labels), so Gather must return at least one metric family.
	if len(mfs) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestRegistryNewTimerRecordsIntoHistogram(t *testing.T) {
	r := NewRegistry()
	clock := r.NewTimer()
	if err := clock.Run("checksum", func(*Entry) error { return nil }); err != nil {
		t.Fatal(err)
	}

	mfs, err := r.Reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "imageio_operation_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the operation duration histogram to be registered")
	}
}
