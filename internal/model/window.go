package model

// RollingWindow 有界 FIFO 历史，长度永远不超过容量
type RollingWindow struct {
	capacity int
	samples  []PriceSample
}

func NewRollingWindow(capacity int) *RollingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingWindow{
		capacity: capacity,
		samples:  make([]PriceSample, 0, capacity),
	}
}

// Push 追加样本，超出容量时淘汰最旧的
func (w *RollingWindow) Push(s PriceSample) {
	w.samples = append(w.samples, s)
	if over := len(w.samples) - w.capacity; over > 0 {
		w.samples = append(w.samples[:0], w.samples[over:]...)
	}
}

// PushValue 只有单一数值的序列 (例如价格比值)
func (w *RollingWindow) PushValue(v float64) {
	w.Push(PriceSample{Open: v, High: v, Low: v, Close: v})
}

// Resize 调整容量，缩小时保留最新的样本
func (w *RollingWindow) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	w.capacity = capacity
	if over := len(w.samples) - capacity; over > 0 {
		w.samples = append(w.samples[:0], w.samples[over:]...)
	}
}

func (w *RollingWindow) Len() int { return len(w.samples) }
func (w *RollingWindow) Cap() int { return w.capacity }

func (w *RollingWindow) Last() (PriceSample, bool) {
	if len(w.samples) == 0 {
		return PriceSample{}, false
	}
	return w.samples[len(w.samples)-1], true
}

// Samples 返回副本
func (w *RollingWindow) Samples() []PriceSample {
	out := make([]PriceSample, len(w.samples))
	copy(out, w.samples)
	return out
}

func (w *RollingWindow) Opens() []float64   { return w.column(func(s PriceSample) float64 { return s.Open }) }
func (w *RollingWindow) Highs() []float64   { return w.column(func(s PriceSample) float64 { return s.High }) }
func (w *RollingWindow) Lows() []float64    { return w.column(func(s PriceSample) float64 { return s.Low }) }
func (w *RollingWindow) Closes() []float64  { return w.column(func(s PriceSample) float64 { return s.Close }) }
func (w *RollingWindow) Volumes() []float64 { return w.column(func(s PriceSample) float64 { return s.Volume }) }

func (w *RollingWindow) column(get func(PriceSample) float64) []float64 {
	out := make([]float64, len(w.samples))
	for i, s := range w.samples {
		out[i] = get(s)
	}
	return out
}
