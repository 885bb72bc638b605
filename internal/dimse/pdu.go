package dimse

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// PDU types. The framing follows the upper-layer protocol: one type byte,
// one reserved byte, a big-endian 4-byte payload length, then the payload.
const (
	pduAssocRQ   = 0x01
	pduAssocAC   = 0x02
	pduAssocRJ   = 0x03
	pduPDataTF   = 0x04
	pduReleaseRQ = 0x05
	pduReleaseRP = 0x06
	pduAbort     = 0x07
)

// P-DATA payload flags. Bit 0 marks a command set, bit 1 marks the last
// fragment. Messages are never fragmented here, so commands carry 0x03
// and data sets 0x02.
const (
	pdataFlagCommand = 0x01
	pdataFlagLast    = 0x02
)

// Association rejection reasons
const (
	rejectReasonCalledAEUnknown  = 0x01
	rejectReasonCallingAEUnknown = 0x02
	rejectReasonNoResources      = 0x03
)

// maxPDULength caps a single PDU payload. A peer announcing more is
// malformed or hostile; either way the association ends.
const maxPDULength = 16 << 20

func writePDU(w io.Writer, typ byte, payload []byte) error {
	if len(payload) > maxPDULength {
		return fmt.Errorf("pdu payload %d exceeds limit %d", len(payload), maxPDULength)
	}

	hdr := make([]byte, 6, 6+len(payload))
	hdr[0] = typ
	hdr[1] = 0x00
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(payload)))

	if _, err := w.Write(append(hdr, payload...)); err != nil {
		return fmt.Errorf("write pdu type 0x%02X: %w", typ, err)
	}
	return nil
}

func readPDU(r io.Reader) (byte, []byte, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(hdr[2:6])
	if length > maxPDULength {
		return 0, nil, fmt.Errorf("pdu payload %d exceeds limit %d", length, maxPDULength)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read pdu payload: %w", err)
	}

	return hdr[0], payload, nil
}

// writePData sends one message part as a single unfragmented P-DATA PDU
func writePData(w io.Writer, command bool, data []byte) error {
	flags := byte(pdataFlagLast)
	if command {
		flags |= pdataFlagCommand
	}

	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, flags)
	payload = append(payload, data...)
	return writePDU(w, pduPDataTF, payload)
}

// readPData expects the next PDU to be P-DATA and returns its flags and body
func readPData(r io.Reader) (flags byte, data []byte, err error) {
	typ, payload, err := readPDU(r)
	if err != nil {
		return 0, nil, err
	}
	if typ != pduPDataTF {
		return 0, nil, fmt.Errorf("expected p-data pdu, got type 0x%02X", typ)
	}
	if len(payload) < 1 {
		return 0, nil, fmt.Errorf("p-data pdu has no flag byte")
	}
	return payload[0], payload[1:], nil
}

// padAET space-pads an application entity title to the 16-byte wire form
func padAET(title string) []byte {
	padded := make([]byte, 16)
	copy(padded, title)
	for i := len(title); i < 16; i++ {
		padded[i] = ' '
	}
	return padded
}

// associationPayload is the AssocRQ/AssocAC body: called AET then calling AET
func associationPayload(calledAET, callingAET string) []byte {
	payload := make([]byte, 0, 32)
	payload = append(payload, padAET(calledAET)...)
	payload = append(payload, padAET(callingAET)...)
	return payload
}

func parseAssociationPayload(payload []byte) (calledAET, callingAET string, err error) {
	if len(payload) < 32 {
		return "", "", fmt.Errorf("association payload too short: %d bytes", len(payload))
	}
	calledAET = strings.TrimRight(string(payload[0:16]), " ")
	callingAET = strings.TrimRight(string(payload[16:32]), " ")
	return calledAET, callingAET, nil
}

func rejectReasonText(reason byte) string {
	switch reason {
	case rejectReasonCalledAEUnknown:
		return "called AE title not recognized"
	case rejectReasonCallingAEUnknown:
		return "calling AE title not recognized"
	case rejectReasonNoResources:
		return "no resources"
	default:
		return fmt.Sprintf("reason 0x%02X", reason)
	}
}
