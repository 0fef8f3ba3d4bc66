// Package topology builds node networks for a core.Field and analyses
// their connectivity.
package topology

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/signalsfoundry/rumor-routing-sim/core"
	"github.com/signalsfoundry/rumor-routing-sim/model"
)

// ErrMalformedRecord is returned for a node line that cannot be parsed.
var ErrMalformedRecord = errors.New("malformed node record")

const recordFields = 5

// Generator produces a node network keyed by position.
type Generator interface {
	Generate() (map[model.Position]*core.Node, error)
}

// Grid lays out Width x Height identical nodes, Spacing units apart,
// starting at the origin.
type Grid struct {
	Width, Height   int
	Spacing         int
	SignalStrength  int
	AgentLifespan   int
	RequestLifespan int
}

func (g Grid) Generate() (map[model.Position]*core.Node, error) {
	if g.Width <= 0 || g.Height <= 0 {
		return nil, fmt.Errorf("%w: grid must be at least 1x1, got %dx%d", core.ErrInvalidConfig, g.Width, g.Height)
	}
	if g.Spacing <= 0 {
		return nil, fmt.Errorf("%w: grid spacing must be positive, got %d", core.ErrInvalidConfig, g.Spacing)
	}
	nodes := make(map[model.Position]*core.Node, g.Width*g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			n, err := core.NewNode(core.NodeConfig{
				Position:        model.Pos(x*g.Spacing, y*g.Spacing),
				SignalStrength:  g.SignalStrength,
				AgentLifespan:   g.AgentLifespan,
				RequestLifespan: g.RequestLifespan,
			})
			if err != nil {
				return nil, err
			}
			nodes[n.Position()] = n
		}
	}
	return nodes, nil
}

// File reads "x;y;signal;agentLife;requestLife" records from Path.
type File struct {
	Path string
}

func (f File) Generate() (map[model.Position]*core.Node, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open topology: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// Parse reads one node per line. Blank lines are skipped. The first bad
// line aborts the whole parse.
func Parse(r io.Reader) (map[model.Position]*core.Node, error) {
	nodes := map[model.Position]*core.Node{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		cfg, err := ParseRecord(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, dup := nodes[cfg.Position]; dup {
			return nil, fmt.Errorf("line %d: %w: duplicate position %s", line, ErrMalformedRecord, cfg.Position)
		}
		n, err := core.NewNode(cfg)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: %w", line, ErrMalformedRecord, err)
		}
		nodes[cfg.Position] = n
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	return nodes, nil
}

// ParseRecord parses a single node record.
func ParseRecord(s string) (core.NodeConfig, error) {
	parts := strings.Split(s, ";")
	if len(parts) != recordFields {
		return core.NodeConfig{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedRecord, recordFields, len(parts))
	}
	var v [recordFields]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return core.NodeConfig{}, fmt.Errorf("%w: field %d: %w", ErrMalformedRecord, i+1, err)
		}
		v[i] = n
	}
	return core.NodeConfig{
		Position:        model.Pos(v[0], v[1]),
		SignalStrength:  v[2],
		AgentLifespan:   v[3],
		RequestLifespan: v[4],
	}, nil
}

// Encode writes nodes in the record format, ordered by position, one per
// line with a trailing newline.
func Encode(w io.Writer, nodes map[model.Position]*core.Node) error {
	positions := make([]model.Position, 0, len(nodes))
	for p := range nodes {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Less(positions[j]) })

	bw := bufio.NewWriter(w)
	for _, p := range positions {
		if _, err := fmt.Fprintln(bw, nodes[p].String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}
