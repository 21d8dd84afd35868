package mongoneo

import (
	"context"
)

// QueryIter streams decoded models from a cursor. Each document materializes
// as the concrete type named by its stored discriminator.
type QueryIter struct {
	cur Cursor
	def *definition
	err error
}

func (iter *QueryIter) Collection() string {
	return iter.def.collection
}

// Iter drains the cursor into a channel. Iteration stops at the first decode
// failure; Err reports it once the channel is closed.
func (iter *QueryIter) Iter(ctx context.Context) <-chan Model {
	ch := make(chan Model)

	go func() {
		defer iter.cur.Close(ctx)
		defer close(ch)

		for iter.cur.Next(ctx) {
			m, err := decodeRaw(iter.cur.Current(), iter.def)
			if err != nil {
				iter.err = err
				return
			}
			select {
			case <-ctx.Done():
				iter.err = ctx.Err()
				return
			case ch <- m:
			}
		}
		if err := iter.cur.Err(); err != nil {
			iter.err = err
		}
	}()

	return ch
}

func (iter *QueryIter) Close(ctx context.Context) error {
	return iter.cur.Close(ctx)
}

// Err is valid once the channel returned by Iter has closed.
func (iter *QueryIter) Err() error {
	return iter.err
}
