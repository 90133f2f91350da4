package ivgen

import "encoding/binary"

// plainGenerator zeroes the IV buffer, then writes the low 32 bits of the
// sector number in little-endian into its first four bytes.
type plainGenerator struct {
	size int
}

func (g *plainGenerator) Size() int { return g.size }

func (g *plainGenerator) Generate(iv []byte, sector uint64) error {
	for i := range iv {
		iv[i] = 0
	}
	if len(iv) >= 4 {
		binary.LittleEndian.PutUint32(iv[:4], uint32(sector))
	}
	return nil
}

func (g *plainGenerator) Close() error { return nil }
