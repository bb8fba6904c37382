package nn

// SGD is a plain momentum optimizer with L2 weight decay. Momentum buffers
// are keyed by parameter name, so constructing a fresh SGD resets the
// optimizer state.
type SGD struct {
	LR          float64
	Momentum    float64
	WeightDecay float64

	velocity map[string][]float32
}

// NewSGD returns an optimizer with empty momentum state.
func NewSGD(lr, momentum, weightDecay float64) *SGD {
	return &SGD{LR: lr, Momentum: momentum, WeightDecay: weightDecay, velocity: make(map[string][]float32)}
}

// Step applies one update to every parameter of the network using the
// gradients accumulated since the last ZeroGrads. Parameters without
// gradient buffers are skipped.
func (o *SGD) Step(n *Network) {
	for _, l := range n.Layers {
		o.update(l.WeightName(), l.Weight.Data, l.Weight.Grad)
		if l.Bias != nil {
			o.update(l.BiasName(), l.Bias.Data, l.Bias.Grad)
		}
	}
}

func (o *SGD) update(name string, data, grad []float32) {
	if grad == nil {
		return
	}
	buf, ok := o.velocity[name]
	if !ok {
		buf = make([]float32, len(data))
		o.velocity[name] = buf
	}
	lr := float32(o.LR)
	mu := float32(o.Momentum)
	wd := float32(o.WeightDecay)
	for i := range data {
		g := grad[i] + wd*data[i]
		buf[i] = mu*buf[i] + g
		data[i] -= lr * buf[i]
	}
}
