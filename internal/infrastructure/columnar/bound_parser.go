package columnar

import (
	"context"
	"io"
	"iter"
)

// Parser binds a factory and options for repeated use across jobs.
type Parser[T any] struct {
	Factory RecordFactory[T]
	Options Options
}

func NewParser[T any](factory RecordFactory[T], opts Options) *Parser[T] {
	return &Parser[T]{Factory: factory, Options: opts}
}

// Parse streams src. onRowError, when set, runs after any OnRowError
// configured on the parser.
func (p *Parser[T]) Parse(ctx context.Context, src io.Reader, onRowError func(row int64, err error)) iter.Seq2[T, error] {
	opts := p.Options
	if onRowError != nil {
		configured := opts.OnRowError
		opts.OnRowError = func(row int64, err error) {
			if configured != nil {
				configured(row, err)
			}
			onRowError(row, err)
		}
	}
	return Parse[T](ctx, src, p.Factory, opts)
}
