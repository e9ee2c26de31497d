package frame

// CRC-8 with polynomial 0x07, zero init, no reflection.
const crcPolynomial = 0x07

var crcTable = func() [256]byte {
	var table [256]byte
	for i := range table {
		crc := byte(i)
		for j := 0; j < 8; j++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// Checksum returns the CRC-8 of data.
func Checksum(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crcTable[crc^b]
	}
	return crc
}
