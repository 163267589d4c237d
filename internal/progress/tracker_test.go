package progress

import "testing"

func TestQuietTrackerAccumulates(t *testing.T) {
	tr := New(true)
	tr.SetTotal(100)
	tr.Add(30)
	tr.Add(20)
	if tr.Current() != 50 {
		t.Errorf("Current = %d, want 50", tr.Current())
	}
	tr.Finish()
}
