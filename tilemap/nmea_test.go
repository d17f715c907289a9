package tilemap

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func testStatus() CarStatus {
	return CarStatus{
		Position:      GeoPoint{Lat: 40.0710, Lon: -105.2295},
		Heading:       90,
		FeetPerSecond: 10,
		Timestamp:     time.Date(2024, 3, 5, 12, 34, 56, 780000000, time.UTC),
	}
}

func TestNMEASentences(t *testing.T) {
	n := NewNMEAWriter(nil, 8.5)
	got := n.Sentences(testStatus())
	want := []string{
		"$GPGGA,123456.78,4004.2600,N,10513.7700,W,1,08,1.2,0.0,M,0.0,M,,*4F\r\n",
		"$GPRMC,123456.78,A,4004.2600,N,10513.7700,W,5.9,90.0,050324,8.5,E,A*15\r\n",
		"$GPVTG,90.0,T,81.5,M,5.9,N,11.0,K,A*1A\r\n",
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d sentences, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sentence %d:\nexpected %q\ngot      %q", i, want[i], got[i])
		}
	}
}

func TestNMEAHemispheres(t *testing.T) {
	st := testStatus()
	st.Position = GeoPoint{Lat: -33.8688, Lon: 151.2093}
	gga := NewNMEAWriter(nil, -12.5).Sentences(st)
	if !strings.Contains(gga[0], ",S,") || !strings.Contains(gga[0], ",E,") {
		t.Errorf("Expected southern and eastern hemispheres, got %q", gga[0])
	}
	if !strings.Contains(gga[1], ",12.5,W,") {
		t.Errorf("Expected westerly variation, got %q", gga[1])
	}
}

func TestNMEAChecksumValidation(t *testing.T) {
	for _, s := range NewNMEAWriter(nil, 0).Sentences(testStatus()) {
		star := strings.Index(s, "*")
		if !strings.HasPrefix(s, "$") || star < 0 || !strings.HasSuffix(s, "\r\n") {
			t.Fatalf("Malformed sentence %q", s)
		}
		want := fmt.Sprintf("%02X", nmeaChecksum(s[:star]))
		if got := s[star+1 : star+3]; got != want {
			t.Errorf("Checksum mismatch in %q: %s != %s", s, got, want)
		}
	}
}

type failingWriter struct{ writes int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	return 0, errors.New("disk full")
}

func TestNMEAWriter(t *testing.T) {
	var b strings.Builder
	n := NewNMEAWriter(&b, 8.5)
	n.AddStatus(testStatus())
	n.AddStatus(testStatus())
	if n.Count() != 6 {
		t.Errorf("Expected 6 sentences, got %d", n.Count())
	}
	if n.Err() != nil {
		t.Errorf("Unexpected error: %v", n.Err())
	}
	if strings.Count(b.String(), "$GPGGA") != 2 {
		t.Errorf("Expected two GGA sentences, got:\n%s", b.String())
	}

	fw := &failingWriter{}
	n = NewNMEAWriter(fw, 0)
	n.AddStatus(testStatus())
	n.AddStatus(testStatus())
	if n.Err() == nil {
		t.Error("Expected the write error to be kept")
	}
	if fw.writes != 1 {
		t.Errorf("Expected writing to stop after the first error, got %d writes", fw.writes)
	}
}
