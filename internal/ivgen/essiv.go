package ivgen

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
)

// essiv defends against watermark attacks by making the IV itself a
// keyed function of the sector: the sector number is encrypted, in a
// single ECB-like block call, under a cipher keyed with a hash of the
// target's data key.
type essivGenerator struct {
	size   int
	block  cipher.Block
	hashFn func() hash.Hash
}

func hashByName(name string) (func() hash.Hash, error) {
	switch name {
	case "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	case "md5":
		return md5.New, nil
	default:
		return nil, fmt.Errorf("ivgen: unknown essiv hash %q", name)
	}
}

func newEssivGenerator(hashName string, km KeyMaterial) (Generator, error) {
	hashFn, err := hashByName(hashName)
	if err != nil {
		return nil, err
	}

	h := hashFn()
	if _, err := h.Write(km.Key); err != nil {
		return nil, fmt.Errorf("ivgen: essiv salt derivation failed: %w", err)
	}
	salt := h.Sum(nil)

	// Only AES is supported as the essiv single-block cipher in this core,
	// matching the cipher family the conversion engine otherwise assumes.
	block, err := aes.NewCipher(salt)
	if err != nil {
		return nil, fmt.Errorf("ivgen: essiv cipher key setup failed: %w", err)
	}

	if block.BlockSize() != km.IVSize {
		return nil, fmt.Errorf("ivgen: essiv block size %d does not match iv size %d: %w", block.BlockSize(), km.IVSize, errMismatchedEssivSize)
	}

	return &essivGenerator{size: km.IVSize, block: block, hashFn: hashFn}, nil
}

func (g *essivGenerator) Size() int { return g.size }

func (g *essivGenerator) Generate(iv []byte, sector uint64) error {
	for i := range iv {
		iv[i] = 0
	}
	if len(iv) >= 8 {
		binary.LittleEndian.PutUint64(iv[:8], sector)
	}
	g.block.Encrypt(iv, iv)
	return nil
}

func (g *essivGenerator) Close() error {
	// The cipher.Block holds no externally releasable resource in the
	// standard library implementation; nothing to zero here since the key
	// material is a derived salt, not the target's data key itself.
	return nil
}
