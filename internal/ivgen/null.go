package ivgen

// nullGenerator always zeroes the IV buffer. It exists solely for on-disk
// compatibility with a legacy format that used no per-sector IV at all.
type nullGenerator struct {
	size int
}

func (g *nullGenerator) Size() int { return g.size }

func (g *nullGenerator) Generate(iv []byte, sector uint64) error {
	for i := range iv {
		iv[i] = 0
	}
	return nil
}

func (g *nullGenerator) Close() error { return nil }
