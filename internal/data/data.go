// Package data supplies the client datasets for a simulation run: a
// deterministic synthetic source, an MNIST source, and the IID/Dirichlet
// partitioners that spread a source across simulated clients.
package data

import (
	"fmt"
	"math/rand"

	"github.com/petar/GoMNIST"
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distmv"
)

// Sample is one labeled example with a flat feature vector.
type Sample struct {
	X     []float32
	Label int
}

// Batch is a minibatch in the flat layout the models consume.
type Batch struct {
	X      []float32
	Labels []int
	Size   int
}

// Batches shuffles the samples and groups them into minibatches. The final
// batch may be short.
func Batches(samples []Sample, batchSize int, rng *rand.Rand) []Batch {
	if len(samples) == 0 || batchSize <= 0 {
		return nil
	}
	order := rng.Perm(len(samples))

	dim := len(samples[0].X)
	var batches []Batch
	for start := 0; start < len(order); start += batchSize {
		end := start + batchSize
		if end > len(order) {
			end = len(order)
		}
		b := Batch{
			X:      make([]float32, 0, (end-start)*dim),
			Labels: make([]int, 0, end-start),
			Size:   end - start,
		}
		for _, i := range order[start:end] {
			b.X = append(b.X, samples[i].X...)
			b.Labels = append(b.Labels, samples[i].Label)
		}
		batches = append(batches, b)
	}
	return batches
}

// Source is a labeled dataset with a train/test split.
type Source struct {
	Train   []Sample
	Test    []Sample
	Classes int
	Dim     int
}

// Synthetic builds a deterministic Gaussian-cluster classification problem:
// one random center per class, samples scattered around it. It is the
// default source for tests and smoke runs.
func Synthetic(classes, dim, trainN, testN int, seed int64) *Source {
	rng := rand.New(rand.NewSource(seed))

	centers := make([][]float32, classes)
	for c := range centers {
		centers[c] = make([]float32, dim)
		for i := range centers[c] {
			centers[c][i] = float32(rng.NormFloat64())
		}
	}

	draw := func(n int) []Sample {
		out := make([]Sample, n)
		for i := range out {
			c := rng.Intn(classes)
			x := make([]float32, dim)
			for j := range x {
				x[j] = centers[c][j] + float32(rng.NormFloat64())*0.3
			}
			out[i] = Sample{X: x, Label: c}
		}
		return out
	}

	return &Source{Train: draw(trainN), Test: draw(testN), Classes: classes, Dim: dim}
}

// mnistNorm matches the standard MNIST normalization.
const (
	mnistMean = 0.1307
	mnistStd  = 0.3081
)

// MNIST loads the raw MNIST files from dir.
func MNIST(dir string) (*Source, error) {
	train, test, err := GoMNIST.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("data: loading mnist from %s: %w", dir, err)
	}
	return &Source{
		Train:   mnistSamples(train),
		Test:    mnistSamples(test),
		Classes: 10,
		Dim:     train.NRow * train.NCol,
	}, nil
}

func mnistSamples(set *GoMNIST.Set) []Sample {
	out := make([]Sample, set.Count())
	for i := range out {
		img, label := set.Get(i)
		x := make([]float32, len(img))
		for j, px := range img {
			x[j] = (float32(px)/255 - mnistMean) / mnistStd
		}
		out[i] = Sample{X: x, Label: int(label)}
	}
	return out
}

// PartitionIID deals samplesPerClient random samples to each client.
func PartitionIID(samples []Sample, clients, samplesPerClient int, rng *rand.Rand) [][]Sample {
	order := rng.Perm(len(samples))
	parts := make([][]Sample, clients)
	pos := 0
	for c := range parts {
		n := samplesPerClient
		if pos+n > len(order) {
			n = len(order) - pos
		}
		part := make([]Sample, 0, n)
		for _, i := range order[pos : pos+n] {
			part = append(part, samples[i])
		}
		parts[c] = part
		pos += n
	}
	return parts
}

// PartitionDirichlet splits each class's samples across clients with
// proportions drawn from Dirichlet(beta), producing the unbalanced non-IID
// partitions used in the federated experiments. Smaller beta means more
// skew.
func PartitionDirichlet(samples []Sample, clients, classes int, beta float64, seed uint64, rng *rand.Rand) [][]Sample {
	alpha := make([]float64, clients)
	for i := range alpha {
		alpha[i] = beta
	}
	dir := distmv.NewDirichlet(alpha, xrand.NewSource(seed))

	byClass := make([][]Sample, classes)
	for _, s := range samples {
		byClass[s.Label] = append(byClass[s.Label], s)
	}

	parts := make([][]Sample, clients)
	for _, class := range byClass {
		rng.Shuffle(len(class), func(i, j int) { class[i], class[j] = class[j], class[i] })
		props := dir.Rand(nil)

		pos := 0
		for c := 0; c < clients; c++ {
			n := int(props[c] * float64(len(class)))
			if c == clients-1 {
				n = len(class) - pos
			}
			if pos+n > len(class) {
				n = len(class) - pos
			}
			parts[c] = append(parts[c], class[pos:pos+n]...)
			pos += n
		}
	}
	return parts
}
