package frame

func encodedLen(n int) int {
	return n + n/254 + 1
}

// cobsEncode returns the COBS encoding of src without a trailing delimiter.
func cobsEncode(src []byte) []byte {
	dst := make([]byte, 1, encodedLen(len(src))+1)
	codeIdx := 0
	code := byte(1)
	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xFF {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}
	dst[codeIdx] = code
	return dst
}

// cobsDecode reverses cobsEncode. src must not contain the delimiter.
func cobsDecode(src []byte) ([]byte, error) {
	dst := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		code := int(src[i])
		if code == 0 {
			return nil, ErrInvalidCOBS
		}
		i++
		end := i + code - 1
		if end > len(src) {
			return nil, ErrInvalidCOBS
		}
		dst = append(dst, src[i:end]...)
		i = end
		if code != 0xFF && i < len(src) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}
