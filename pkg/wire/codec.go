// Package wire implements the framed byte protocol shared by the actor
// chassis and the pick-and-place arm on the half-duplex serial bus.
package wire

import "log"

const (
	headerByte1 = 0x24
	headerByte2 = 0x24
	footerByte1 = 0x23
	footerByte2 = 0x23

	// MinFrameSize is the smallest legal frame: header(2) + length(1) +
	// group(1) + checksum(1) + footer(2).
	MinFrameSize = 7
)

// Frame is an immutable decoded frame pulled off the wire.
type Frame struct {
	Raw            []byte
	Group          byte
	Payload        []byte
	DeclaredLength int
	CRCOk          bool
}

// PayloadByte returns the payload byte at index i, or 0 if out of range.
func (f Frame) PayloadByte(i int) byte {
	if i < 0 || i >= len(f.Payload) {
		return 0
	}
	return f.Payload[i]
}

// checksum computes the device's sum-based checksum over data.
//
// The legacy sender in the original firmware used an XOR checksum; the
// shared bus only ever speaks the sum-based variant (see DESIGN.md).
func checksum(data []byte) byte {
	var sum int
	for _, b := range data {
		sum = (sum + int(b)) & 0xFF
	}
	return byte(sum)
}

// Encode packs payload into a complete frame: header, length, payload,
// checksum, footer. lengthOverride, when given, replaces the computed
// length byte — some devices (the arm) fix their frame length
// regardless of payload size.
func Encode(payload []byte, lengthOverride ...int) []byte {
	length := len(payload) + 3
	if len(lengthOverride) > 0 {
		length = lengthOverride[0]
	}

	frame := make([]byte, 0, 3+len(payload)+3)
	frame = append(frame, headerByte1, headerByte2, byte(length))
	frame = append(frame, payload...)

	crc := checksum(frame)
	frame = append(frame, crc)
	frame = append(frame, footerByte1, footerByte2)
	return frame
}

// Buffer is a growable byte accumulator with cheap prefix removal, used
// by the bus reader to hold bytes between frame boundaries.
type Buffer struct {
	data []byte
}

// Write appends chunk to the buffer.
func (b *Buffer) Write(chunk []byte) {
	b.data = append(b.data, chunk...)
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.data) }

func (b *Buffer) dropPrefix(n int) {
	b.data = b.data[n:]
}

// ExtractFrames greedily decodes every complete frame currently sitting
// in the buffer, removing consumed bytes as it goes, and resyncing past
// corrupted data. See spec.md §4.1 for the full algorithm.
func ExtractFrames(b *Buffer) []Frame {
	var frames []Frame

	for {
		if b.Len() < MinFrameSize {
			return frames
		}

		headerIdx := findHeader(b.data)
		if headerIdx < 0 {
			b.data = b.data[:0]
			return frames
		}
		if headerIdx > 0 {
			b.dropPrefix(headerIdx)
			if b.Len() < MinFrameSize {
				return frames
			}
		}

		declaredLength := int(b.data[2])
		totalLength := 3 + declaredLength

		if totalLength < MinFrameSize {
			log.Printf("wire: declared length %d shorter than minimum frame size, dropping byte", declaredLength)
			b.dropPrefix(1)
			continue
		}

		if b.Len() < totalLength {
			return frames
		}

		frameBytes := make([]byte, totalLength)
		copy(frameBytes, b.data[:totalLength])

		if frameBytes[totalLength-2] != footerByte1 || frameBytes[totalLength-1] != footerByte2 {
			footerIdx := findFooter(b.data, 3)
			if footerIdx < 0 {
				return frames
			}
			recoveredLength := footerIdx + 2
			if b.Len() < recoveredLength {
				return frames
			}
			totalLength = recoveredLength
			frameBytes = make([]byte, totalLength)
			copy(frameBytes, b.data[:totalLength])
			log.Printf("wire: length mismatch recovered, using actual length %d", totalLength-3)
		}

		crcIdx := totalLength - 2 - 1
		if crcIdx <= 3 {
			log.Printf("wire: frame too short after footer validation, dropping byte")
			b.dropPrefix(1)
			continue
		}

		crcByte := frameBytes[crcIdx]
		crcDomain := frameBytes[:crcIdx]
		computedCRC := checksum(crcDomain)

		payloadBytes := frameBytes[3:crcIdx]
		var group byte
		var payload []byte
		if len(payloadBytes) > 0 {
			group = payloadBytes[0]
		}
		if len(payloadBytes) > 1 {
			payload = append([]byte(nil), payloadBytes[1:]...)
		}

		frames = append(frames, Frame{
			Raw:            frameBytes,
			Group:          group,
			Payload:        payload,
			DeclaredLength: declaredLength,
			CRCOk:          crcByte == computedCRC,
		})

		b.dropPrefix(totalLength)
	}
}

func findHeader(data []byte) int {
	for i := 0; i+1 < len(data); i++ {
		if data[i] == headerByte1 && data[i+1] == headerByte2 {
			return i
		}
	}
	return -1
}

func findFooter(data []byte, start int) int {
	for i := start; i+1 < len(data); i++ {
		if data[i] == footerByte1 && data[i+1] == footerByte2 {
			return i
		}
	}
	return -1
}
