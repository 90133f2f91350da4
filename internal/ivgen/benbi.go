package ivgen

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// benbiGenerator is needed when the chaining mode treats sub-sector
// "narrow blocks" as units: the IV is a big-endian counter starting at 1,
// shifted by the log2 of the cipher's block size relative to the sector.
type benbiGenerator struct {
	size  int
	shift uint
}

func newBenbiGenerator(km KeyMaterial) (Generator, error) {
	blockLen := km.CipherBlockLen
	if blockLen <= 0 || blockLen > 512 || blockLen&(blockLen-1) != 0 {
		return nil, fmt.Errorf("ivgen: benbi requires a power-of-two cipher block size <= 512, got %d", blockLen)
	}
	// s = 9 - log2(cipher_block_size); 512 == 1<<9.
	shift := 9 - uint(bits.TrailingZeros(uint(blockLen)))
	return &benbiGenerator{size: km.IVSize, shift: shift}, nil
}

func (g *benbiGenerator) Size() int { return g.size }

func (g *benbiGenerator) Generate(iv []byte, sector uint64) error {
	for i := range iv {
		iv[i] = 0
	}
	if len(iv) >= 8 {
		val := (sector << g.shift) + 1
		binary.BigEndian.PutUint64(iv[len(iv)-8:], val)
	}
	return nil
}

func (g *benbiGenerator) Close() error { return nil }
