package raster

import (
	"fmt"
	"math"

	"github.com/jellydator/ttlcache/v3"
)

// blockDecoder decodes fixed-size blocks of band 1. Blocks on the right and
// bottom edges are still blockW x blockH; cells past the grid are ignored.
type blockDecoder interface {
	blockSize() (w, h int)
	decodeBlock(bx, by int) ([]float64, error)
}

type blockKey struct{ bx, by int }

// blockedGrid assembles windows from cached blocks.
type blockedGrid struct {
	dec           blockDecoder
	width, height int
	blockW        int
	blockH        int
	capacity      int
	cache         *ttlcache.Cache[blockKey, []float64]
}

func newBlockedGrid(dec blockDecoder, width, height int, opts Options) *blockedGrid {
	bw, bh := dec.blockSize()
	capacity := opts.CacheBlocks
	blockBytes := uint64(bw) * uint64(bh) * 8
	if opts.MaxCacheBytes > 0 && blockBytes > 0 {
		capacity = min(capacity, int(max(opts.MaxCacheBytes/blockBytes, 1)))
	}
	return &blockedGrid{
		dec:      dec,
		width:    width,
		height:   height,
		blockW:   bw,
		blockH:   bh,
		capacity: capacity,
		cache: ttlcache.New[blockKey, []float64](
			ttlcache.WithCapacity[blockKey, []float64](uint64(capacity)),
		),
	}
}

func (g *blockedGrid) cacheCapacity() (int, int64) {
	return g.capacity, int64(g.blockW) * int64(g.blockH) * 8
}

func (g *blockedGrid) block(bx, by int) ([]float64, error) {
	key := blockKey{bx, by}
	if item := g.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	data, err := g.dec.decodeBlock(bx, by)
	if err != nil {
		return nil, fmt.Errorf("decode block (%d,%d): %w", bx, by, err)
	}
	g.cache.Set(key, data, ttlcache.NoTTL)
	return data, nil
}

func (g *blockedGrid) read(w Window) ([]float64, error) {
	if w.Empty() {
		return nil, nil
	}
	out := make([]float64, w.Width*w.Height)
	for i := range out {
		out[i] = math.NaN()
	}

	r0, r1 := max(w.Row, 0), min(w.Row+w.Height, g.height)
	c0, c1 := max(w.Col, 0), min(w.Col+w.Width, g.width)
	if r0 >= r1 || c0 >= c1 {
		return out, nil
	}

	for by := r0 / g.blockH; by <= (r1-1)/g.blockH; by++ {
		for bx := c0 / g.blockW; bx <= (c1-1)/g.blockW; bx++ {
			blk, err := g.block(bx, by)
			if err != nil {
				return nil, err
			}
			br0, br1 := max(r0, by*g.blockH), min(r1, (by+1)*g.blockH)
			bc0, bc1 := max(c0, bx*g.blockW), min(c1, (bx+1)*g.blockW)
			for r := br0; r < br1; r++ {
				src := blk[(r-by*g.blockH)*g.blockW+(bc0-bx*g.blockW):]
				dst := out[(r-w.Row)*w.Width+(bc0-w.Col):]
				copy(dst[:bc1-bc0], src[:bc1-bc0])
			}
		}
	}
	return out, nil
}

func (g *blockedGrid) close() {
	g.cache.DeleteAll()
}
