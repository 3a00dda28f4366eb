package worker

import (
	"context"
	"errors"
	"sync"
)

// RowFunc computes the value for one row.
type RowFunc[T any] func(ctx context.Context, row int) (T, error)

type rowJob[T any] struct {
	row   int
	fn    RowFunc[T]
	abort func()
}

func (j *rowJob[T]) Execute(ctx context.Context) Result {
	v, err := j.fn(ctx, j.row)
	if err != nil {
		j.abort()
	}
	return &rowResult[T]{value: v, err: err}
}

type rowResult[T any] struct {
	value T
	err   error
}

func (r *rowResult[T]) GetError() error {
	return r.err
}

// ProcessRows runs fn for rows [0, n) on a pool of workers and returns the
// values in row order. The first failure stops the remaining rows; the error
// returned is the one from the lowest failing row.
func ProcessRows[T any](ctx context.Context, n, workers int, fn RowFunc[T]) ([]T, error) {
	if n == 0 {
		return []T{}, nil
	}

	pool := NewPool(ctx, workers)
	pool.Start()

	var once sync.Once
	abort := func() { once.Do(pool.Cancel) }

	for i := range n {
		pool.Submit(&rowJob[T]{row: i, fn: fn, abort: abort})
	}

	results := pool.Wait()

	values := make([]T, n)
	var canceled error
	for i, res := range results {
		err := res.GetError()
		if err == nil {
			values[i] = res.(*rowResult[T]).value
			continue
		}
		// Rows cut short by another row's failure are not the cause.
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			if canceled == nil {
				canceled = err
			}
			continue
		}
		return nil, err
	}
	if canceled != nil {
		return nil, canceled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return values, nil
}
