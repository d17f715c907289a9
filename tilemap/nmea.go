package tilemap

import (
	"fmt"
	"io"
	"math"
	"sync"
)

// knotsPerFootSecond converts feet per second to knots.
const knotsPerFootSecond = 0.592484

// nmeaChecksum XORs every byte of a sentence body between '$' and '*'.
func nmeaChecksum(sentence string) byte {
	var checksum byte
	for i := 1; i < len(sentence); i++ { // Skip the '$' character
		checksum ^= sentence[i]
	}
	return checksum
}

// formatNMEA appends the checksum and line ending to a sentence body.
func formatNMEA(sentence string) string {
	return fmt.Sprintf("%s*%02X\r\n", sentence, nmeaChecksum(sentence))
}

// nmeaCoord splits a coordinate into whole degrees, decimal minutes and the
// hemisphere letter.
func nmeaCoord(v float64, pos, neg string) (int, float64, string) {
	hem := pos
	if v < 0 {
		hem = neg
	}
	v = math.Abs(v)
	deg := int(v)
	return deg, (v - float64(deg)) * 60, hem
}

// NMEAWriter renders simulated car positions as GPS receiver output, so a
// drive can be replayed into the car's navigation board on the bench.
type NMEAWriter struct {
	mu          sync.Mutex
	w           io.Writer
	declination float64
	sentences   int
	err         error
}

// NewNMEAWriter writes sentences to w. declination is reported as the
// magnetic variation in RMC sentences.
func NewNMEAWriter(w io.Writer, declination float64) *NMEAWriter {
	return &NMEAWriter{w: w, declination: declination}
}

// Sentences renders GGA, RMC and VTG sentences for st.
func (n *NMEAWriter) Sentences(st CarStatus) []string {
	ts := st.Timestamp.UTC()
	timeStr := fmt.Sprintf("%02d%02d%02d.%02d", ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond()/10000000)
	latDeg, latMin, latHem := nmeaCoord(st.Position.Lat, "N", "S")
	lonDeg, lonMin, lonHem := nmeaCoord(st.Position.Lon, "E", "W")
	knots := st.FeetPerSecond * knotsPerFootSecond

	gga := fmt.Sprintf("$GPGGA,%s,%02d%07.4f,%s,%03d%07.4f,%s,1,08,1.2,0.0,M,0.0,M,,",
		timeStr, latDeg, latMin, latHem, lonDeg, lonMin, lonHem)

	varDir := "E"
	if n.declination < 0 {
		varDir = "W"
	}
	rmc := fmt.Sprintf("$GPRMC,%s,A,%02d%07.4f,%s,%03d%07.4f,%s,%.1f,%.1f,%s,%.1f,%s,A",
		timeStr, latDeg, latMin, latHem, lonDeg, lonMin, lonHem,
		knots, st.Heading, ts.Format("020106"),
		math.Abs(n.declination), varDir)

	vtg := fmt.Sprintf("$GPVTG,%.1f,T,%.1f,M,%.1f,N,%.1f,K,A",
		st.Heading, normalizeAngle(st.Heading-n.declination), knots, knots*1.852)

	return []string{formatNMEA(gga), formatNMEA(rmc), formatNMEA(vtg)}
}

// AddStatus writes the sentences for st. It matches the simulator callback
// signature; the first write error is kept and later calls do nothing.
func (n *NMEAWriter) AddStatus(st CarStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return
	}
	for _, s := range n.Sentences(st) {
		if _, err := io.WriteString(n.w, s); err != nil {
			n.err = err
			return
		}
		n.sentences++
	}
}

// Count returns the number of sentences written.
func (n *NMEAWriter) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sentences
}

// Err returns the first write error.
func (n *NMEAWriter) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}
