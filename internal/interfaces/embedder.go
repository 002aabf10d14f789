package interfaces

// Embedder maps text to a fixed-dimension vector. How text is embedded
// is outside the orchestration core; index implementations take
// whatever embedder they are constructed with.
type Embedder interface {
	Embed(text string) []float32
	Dimension() int
}
