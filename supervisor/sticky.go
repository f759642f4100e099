package supervisor

// StickyRequest is the most recent caller intent — a position report or a
// beacon request — replayed immediately after every successful
// (re)connection. There is at most one sticky request at a time; setting a
// new one replaces whatever was held before.
type StickyRequest interface {
	isSticky()
	// replay sends this request over an open Session.
	replay(s sessionSender) error
}

type sessionSender interface {
	SendECEF(x, y, z float64) error
	SendLLA(lat, lon, alt float64) error
	RequestBeacon(id string) error
}

// stickyNone is the zero sticky request: nothing to replay.
type stickyNone struct{}

func (stickyNone) isSticky()                  {}
func (stickyNone) replay(sessionSender) error { return nil }

// ECEFPosition is a sticky Earth-centred Earth-fixed position report.
type ECEFPosition struct {
	X, Y, Z float64 // metres
}

func (ECEFPosition) isSticky() {}
func (p ECEFPosition) replay(s sessionSender) error {
	return s.SendECEF(p.X, p.Y, p.Z)
}

// LLAPosition is a sticky geodetic position report.
type LLAPosition struct {
	LatDeg, LonDeg, AltM float64
}

func (LLAPosition) isSticky() {}
func (p LLAPosition) replay(s sessionSender) error {
	return s.SendLLA(p.LatDeg, p.LonDeg, p.AltM)
}

// Beacon is a sticky named-reference-station request.
type Beacon struct {
	ID string
}

func (Beacon) isSticky() {}
func (b Beacon) replay(s sessionSender) error {
	return s.RequestBeacon(b.ID)
}
