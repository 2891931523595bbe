package raster

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// asciiGrid is an ESRI ASCII grid. The whole grid is parsed on open and
// served as a single block.
type asciiGrid struct {
	width, height int
	transform     Transform
	nodata        float64
	hasNoData     bool
	integer       bool
	cells         []float64

	grid *blockedGrid
}

func openASCIIGrid(path string, opts Options) (*asciiGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g, err := parseASCIIGrid(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	g.grid = newBlockedGrid(g, g.width, g.height, opts)
	return g, nil
}

func parseASCIIGrid(r *bufio.Reader) (*asciiGrid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	header := map[string]float64{}
	var first string
	for sc.Scan() {
		tok := sc.Text()
		key := strings.ToLower(tok)
		if !isASCIIHeaderKey(key) {
			first = tok
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("header %s has no value", tok)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", tok, err)
		}
		header[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	g := &asciiGrid{
		width:   int(header["ncols"]),
		height:  int(header["nrows"]),
		integer: true,
	}
	if g.width <= 0 || g.height <= 0 {
		return nil, errors.New("ncols and nrows must be positive")
	}

	dx, dy := header["dx"], header["dy"]
	if cs, ok := header["cellsize"]; ok {
		dx, dy = cs, cs
	}
	if dx <= 0 || dy <= 0 {
		return nil, errors.New("missing cellsize")
	}

	var left, bottom float64
	switch {
	case has(header, "xllcorner") && has(header, "yllcorner"):
		left, bottom = header["xllcorner"], header["yllcorner"]
	case has(header, "xllcenter") && has(header, "yllcenter"):
		left, bottom = header["xllcenter"]-dx/2, header["yllcenter"]-dy/2
	default:
		return nil, errors.New("missing lower-left origin")
	}
	g.transform = Transform{left, dx, 0, bottom + float64(g.height)*dy, 0, -dy}

	if nd, ok := header["nodata_value"]; ok {
		g.nodata, g.hasNoData = nd, true
	}

	g.cells = make([]float64, 0, g.width*g.height)
	add := func(tok string) error {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("cell %d: %w", len(g.cells), err)
		}
		if strings.ContainsAny(tok, ".eE") {
			g.integer = false
		}
		g.cells = append(g.cells, v)
		return nil
	}
	if first != "" {
		if err := add(first); err != nil {
			return nil, err
		}
	}
	for len(g.cells) < g.width*g.height && sc.Scan() {
		if err := add(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(g.cells) != g.width*g.height {
		return nil, fmt.Errorf("expected %d cells, found %d", g.width*g.height, len(g.cells))
	}
	return g, nil
}

func isASCIIHeaderKey(k string) bool {
	switch k {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter",
		"cellsize", "dx", "dy", "nodata_value":
		return true
	}
	return false
}

func has(m map[string]float64, k string) bool {
	_, ok := m[k]
	return ok
}

func (g *asciiGrid) blockSize() (int, int) { return g.width, g.height }

func (g *asciiGrid) decodeBlock(bx, by int) ([]float64, error) {
	if bx != 0 || by != 0 {
		out := make([]float64, len(g.cells))
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	}
	return g.cells, nil
}

func (g *asciiGrid) Width() int                       { return g.width }
func (g *asciiGrid) Height() int                      { return g.height }
func (g *asciiGrid) Transform() Transform             { return g.transform }
func (g *asciiGrid) NoData() (float64, bool)          { return g.nodata, g.hasNoData }
func (g *asciiGrid) Integer() bool                    { return g.integer }
func (g *asciiGrid) Read(w Window) ([]float64, error) { return g.grid.read(w) }

func (g *asciiGrid) CacheCapacity() (int, int64) { return g.grid.cacheCapacity() }

func (g *asciiGrid) Close() error {
	g.grid.close()
	return nil
}
