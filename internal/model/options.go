package model

import (
	"math/rand"

	"github.com/MaxMax2016/Multi-Singer/internal/logger"
)

type options struct {
	log  logger.Logger
	seed int64
}

// Option customises generator construction.
type Option func(*options)

// WithLogger routes weight-norm lifecycle logging to log.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithSeed seeds weight initialisation and inference noise.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

func buildOptions(opts []Option) options {
	o := options{log: logger.Discard(), seed: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Discard()
	}
	return o
}

func (o options) rng() *rand.Rand { return rand.New(rand.NewSource(o.seed)) }
