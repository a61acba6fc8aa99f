package dataflow

// Option configures a pipeline stage.
type Option func(*config)

type config struct {
	workers    int
	bufferSize int
	// errorHandler sees every error a stage function returns. Returning true
	// drops the item; returning false stops ForEach with that error.
	errorHandler func(error) bool
}

func defaultConfig() *config {
	return &config{workers: 1}
}

func apply(opts []Option) *config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithWorkers sets the number of concurrent workers for a stage.
// Default is 1 (sequential, order preserving).
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithBufferSize sets the buffer size of a stage's output channel.
func WithBufferSize(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.bufferSize = n
		}
	}
}

// WithErrorHandler installs h for stage errors.
func WithErrorHandler(h func(error) bool) Option {
	return func(c *config) {
		c.errorHandler = h
	}
}
