package webrtc

import (
	"fmt"
	"io"
	"strings"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// rtpWriter consumes the RTP packets of one remote track.
type rtpWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

// annexBWriter writes H264 as an Annex-B elementary stream.
type annexBWriter struct {
	w     io.Writer
	units nalReassembler
}

func (a *annexBWriter) WriteRTP(pkt *rtp.Packet) error {
	for _, nalu := range a.units.push(pkt.SequenceNumber, pkt.Payload) {
		if len(nalu) == 0 {
			continue
		}
		if _, err := a.w.Write(annexBStartCode); err != nil {
			return err
		}
		if _, err := a.w.Write(nalu); err != nil {
			return err
		}
	}
	return nil
}

// newSinkWriter picks a container for mimeType. It returns nil for codecs
// that are drained rather than written.
func newSinkWriter(mimeType string, w io.Writer) (rtpWriter, error) {
	if w == nil {
		return nil, nil
	}
	switch {
	case strings.EqualFold(mimeType, pion.MimeTypeH264):
		return &annexBWriter{w: w}, nil
	case strings.EqualFold(mimeType, pion.MimeTypeVP8):
		iw, err := ivfwriter.NewWith(w)
		if err != nil {
			return nil, fmt.Errorf("create ivf writer: %w", err)
		}
		return iw, nil
	default:
		return nil, nil
	}
}
