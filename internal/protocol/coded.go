package protocol

import "encoding/binary"

// JoinCoded prefixes body with a big-endian u16 code, the layout shared by
// Data and Error payloads.
func JoinCoded(code uint16, body []byte) []byte {
	buf := make([]byte, CodeHeaderLen+len(body))
	binary.BigEndian.PutUint16(buf[0:2], code)
	copy(buf[CodeHeaderLen:], body)
	return buf
}

// SplitCoded returns the leading code and a copy of the remaining bytes.
func SplitCoded(payload []byte) (uint16, []byte, error) {
	if len(payload) < CodeHeaderLen {
		return 0, nil, ErrShortPayload
	}
	code := binary.BigEndian.Uint16(payload[0:2])
	body := make([]byte, len(payload)-CodeHeaderLen)
	copy(body, payload[CodeHeaderLen:])
	return code, body, nil
}
