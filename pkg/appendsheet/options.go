package appendsheet

import "github.com/rs/zerolog"

// DefaultBufferSize is the number of staged rows a writer holds before
// materializing them into the workbook.
const DefaultBufferSize = 100

type options struct {
	bufferSize int
	firstRow   int
	coerce     bool
	logger     zerolog.Logger
}

func defaultOptions() options {
	return options{
		bufferSize: DefaultBufferSize,
		firstRow:   1,
		logger:     zerolog.Nop(),
	}
}

// Option configures an Engine.
type Option func(*options)

// WithBufferSize sets how many rows a writer stages before flushing them.
// Values below 1 flush on every write.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.bufferSize = n
	}
}

// WithFirstRow sets the row every sheet cursor starts at.
func WithFirstRow(row int) Option {
	return func(o *options) {
		if row > 0 {
			o.firstRow = row
		}
	}
}

// WithCoercion lets text values be parsed into the kind their field declares
// before validation. Useful when records come from untyped sources.
func WithCoercion() Option {
	return func(o *options) { o.coerce = true }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}
