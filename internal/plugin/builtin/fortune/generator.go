package fortune

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
)

type Algorithm string

const (
	AlgorithmRandom   Algorithm = "random"
	AlgorithmWeighted Algorithm = "weighted"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "", AlgorithmRandom:
		return AlgorithmRandom, nil
	case AlgorithmWeighted:
		return AlgorithmWeighted, nil
	default:
		return "", fmt.Errorf("unknown fortune_algorithm %q (want random or weighted)", s)
	}
}

// weightSigma is the spread of the weighted draw around the range center.
const weightSigma = 10.0

// MaxRangeSpan bounds max-min+1. Weighted tables hold one float per value.
const MaxRangeSpan = 10_000

// checkRange reports an *InvalidRangeError for inverted or oversized ranges.
func checkRange(min, max int) error {
	// uint subtraction cannot overflow once min <= max.
	if min > max || uint(max)-uint(min) >= MaxRangeSpan {
		return &InvalidRangeError{Min: min, Max: max}
	}
	return nil
}

// Generator draws fortune values. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	// cumulative weight tables keyed by range
	tables map[[2]int][]float64
}

// NewGenerator returns a generator drawing from rng, or from a randomly
// seeded PCG source when rng is nil.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{rng: rng, tables: map[[2]int][]float64{}}
}

// Generate returns a value in [min, max]. Unknown algorithms draw uniformly.
func (g *Generator) Generate(min, max int, alg Algorithm) (int, error) {
	if err := checkRange(min, max); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if alg != AlgorithmWeighted || min == max {
		return min + g.rng.IntN(max-min+1), nil
	}

	cum := g.table(min, max)
	total := cum[len(cum)-1]
	r := g.rng.Float64() * total
	i := sort.Search(len(cum), func(i int) bool { return cum[i] > r })
	if i >= len(cum) {
		i = len(cum) - 1
	}
	return min + i, nil
}

func (g *Generator) table(min, max int) []float64 {
	key := [2]int{min, max}
	if t, ok := g.tables[key]; ok {
		return t
	}
	center := float64(min+max) / 2
	cum := make([]float64, 0, max-min+1)
	sum := 0.0
	for i := min; i <= max; i++ {
		d := (float64(i) - center) / weightSigma
		sum += math.Exp(-0.5 * d * d)
		cum = append(cum, sum)
	}
	g.tables[key] = cum
	return cum
}
