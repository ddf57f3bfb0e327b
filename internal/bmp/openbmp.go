package bmp

import (
	"encoding/binary"
	"fmt"
	"math"
)

// OpenBMP v2 framing as written to the raw topic:
//
//	0-1:  Version (uint16) = 2
//	2-5:  Collector Hash (uint32)
//	6-9:  BMP Message Length (uint32)
//	10..: BMP message bytes
const (
	OpenBMPHeaderSize = 10
	openBMPVersion    = 2
)

// FrameResult contains the decoded OpenBMP frame contents.
type FrameResult struct {
	CollectorHash uint32
	BMPBytes      []byte // Raw BMP message payload.
}

// EncodeOpenBMPFrame wraps raw BMP bytes in an OpenBMP v2 frame.
func EncodeOpenBMPFrame(collectorHash uint32, bmpBytes []byte) ([]byte, error) {
	if len(bmpBytes) == 0 {
		return nil, fmt.Errorf("openbmp: empty payload")
	}
	if uint64(len(bmpBytes)) > math.MaxUint32 {
		return nil, fmt.Errorf("openbmp: payload of %d bytes overflows msg_len", len(bmpBytes))
	}
	frame := make([]byte, OpenBMPHeaderSize+len(bmpBytes))
	binary.BigEndian.PutUint16(frame[0:2], openBMPVersion)
	binary.BigEndian.PutUint32(frame[2:6], collectorHash)
	binary.BigEndian.PutUint32(frame[6:10], uint32(len(bmpBytes)))
	copy(frame[OpenBMPHeaderSize:], bmpBytes)
	return frame, nil
}

// DecodeOpenBMPFrame decodes the OpenBMP v2 frame at the start of data.
// Bytes after the frame are ignored.
func DecodeOpenBMPFrame(data []byte, maxPayloadBytes int) (FrameResult, error) {
	if len(data) < OpenBMPHeaderSize {
		return FrameResult{}, fmt.Errorf("openbmp: frame too short (%d bytes, need %d)", len(data), OpenBMPHeaderSize)
	}

	version := binary.BigEndian.Uint16(data[0:2])
	if version != openBMPVersion {
		return FrameResult{}, fmt.Errorf("openbmp: unsupported version %d", version)
	}

	msgLen := binary.BigEndian.Uint32(data[6:10])
	if msgLen == 0 {
		return FrameResult{}, fmt.Errorf("openbmp: msg_len is 0")
	}
	if uint64(msgLen) > uint64(math.MaxInt)-OpenBMPHeaderSize {
		return FrameResult{}, fmt.Errorf("openbmp: msg_len %d overflows addressable size", msgLen)
	}
	if maxPayloadBytes > 0 && int(msgLen) > maxPayloadBytes {
		return FrameResult{}, fmt.Errorf("openbmp: msg_len %d exceeds limit %d", msgLen, maxPayloadBytes)
	}

	totalLen := OpenBMPHeaderSize + int(msgLen)
	if len(data) < totalLen {
		return FrameResult{}, fmt.Errorf("openbmp: frame truncated (have %d, need %d)", len(data), totalLen)
	}

	return FrameResult{
		CollectorHash: binary.BigEndian.Uint32(data[2:6]),
		BMPBytes:      data[OpenBMPHeaderSize:totalLen],
	}, nil
}
