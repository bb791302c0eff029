package webrtc

import "encoding/binary"

// RFC 6184 payload structures carried in the NAL header's type field.
const (
	nalTypeMask  = 0x1f
	nalFNRIMask  = 0xe0
	nalSingleMax = 23
	nalSTAPA     = 24
	nalFUA       = 28

	fuStart = 0x80
	fuEnd   = 0x40
)

// nalReassembler turns the RTP payloads of one H264 track into complete NAL
// units. Each track gets its own, since FU-A state spans packets.
type nalReassembler struct {
	frag    []byte
	fragOK  bool
	nextSeq uint16
}

// push consumes one payload and returns the NAL units it completes. A
// sequence gap inside a fragmented unit discards that unit.
func (r *nalReassembler) push(seq uint16, payload []byte) [][]byte {
	if len(payload) == 0 {
		return nil
	}

	switch t := payload[0] & nalTypeMask; {
	case t >= 1 && t <= nalSingleMax:
		r.dropFragment()
		return [][]byte{payload}
	case t == nalSTAPA:
		r.dropFragment()
		return splitSTAPA(payload[1:])
	case t == nalFUA:
		return r.pushFragment(seq, payload)
	default:
		return nil
	}
}

func (r *nalReassembler) dropFragment() {
	r.frag = nil
	r.fragOK = false
}

// splitSTAPA walks the 16-bit length-prefixed units of an aggregation packet.
// A zero or overrunning length ends the walk.
func splitSTAPA(body []byte) [][]byte {
	var units [][]byte
	for len(body) >= 2 {
		n := int(binary.BigEndian.Uint16(body))
		body = body[2:]
		if n == 0 || n > len(body) {
			break
		}
		units = append(units, body[:n])
		body = body[n:]
	}
	return units
}

func (r *nalReassembler) pushFragment(seq uint16, payload []byte) [][]byte {
	if len(payload) < 2 {
		return nil
	}
	indicator, header, data := payload[0], payload[1], payload[2:]

	switch {
	case header&fuStart != 0:
		r.frag = append([]byte{indicator&nalFNRIMask | header&nalTypeMask}, data...)
		r.fragOK = true
	case !r.fragOK:
		return nil
	case seq != r.nextSeq:
		r.dropFragment()
		return nil
	default:
		r.frag = append(r.frag, data...)
	}
	r.nextSeq = seq + 1

	if header&fuEnd == 0 {
		return nil
	}
	unit := r.frag
	r.dropFragment()
	return [][]byte{unit}
}
