package scservo

import "testing"

func TestCountsDegreesRoundTrip(t *testing.T) {
	for counts := 0; counts <= CountsPerRevolution; counts += 17 {
		degrees := CountsToDegrees(counts)
		back := DegreesToCounts(degrees)
		if diff := back - counts; diff < -1 || diff > 1 {
			t.Errorf("round trip counts=%d -> degrees=%v -> counts=%d, drifted by %d", counts, degrees, back, diff)
		}
	}
}

func TestCountsToDegreesBounds(t *testing.T) {
	if got := CountsToDegrees(0); got != -180 {
		t.Errorf("CountsToDegrees(0) = %v, want -180", got)
	}
	if got := CountsToDegrees(CountsPerRevolution); got != 180 {
		t.Errorf("CountsToDegrees(4095) = %v, want 180", got)
	}
}
