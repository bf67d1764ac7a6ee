package graph

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	anferrors "github.com/tamirms/hyperanf/errors"
)

// ReadArcs parses an arc list: one "src dst" pair of non-negative decimal
// node ids per line, separated by blanks. Empty lines and lines starting with
// '#' are skipped. The graph has max id + 1 nodes, or minNodes if larger.
func ReadArcs(r io.Reader, minNodes int) (*ArrayGraph, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var arcs []Arc
	n := minNodes
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d: %q", anferrors.ErrMalformedArc, line, text)
		}
		src, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", anferrors.ErrMalformedArc, line, err)
		}
		dst, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", anferrors.ErrMalformedArc, line, err)
		}
		arcs = append(arcs, Arc{Src: int(src), Dst: int(dst)})
		n = max(n, int(src)+1, int(dst)+1)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("graph: reading arcs: %w", err)
	}
	return FromArcs(n, arcs)
}

// ReadArcsFile reads an arc list from the named file.
func ReadArcsFile(path string) (*ArrayGraph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadArcs(f, 0)
}

// WriteArcs writes g in the format accepted by ReadArcs.
func WriteArcs(w io.Writer, g *ArrayGraph) error {
	bw := bufio.NewWriter(w)
	for v := 0; v < g.NumNodes(); v++ {
		for _, s := range g.SuccessorSlice(v) {
			if _, err := fmt.Fprintf(bw, "%d\t%d\n", v, s); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
