package storage

import "fmt"

// Overlay buffers writes on top of a base Database. Reads see buffered writes
// first. Commit flushes every buffered write to the base in one atomic batch;
// Discard drops them. An Overlay is not safe for concurrent use.
type Overlay struct {
	base   Database
	writes map[string][]byte
	order  []string
}

// NewOverlay creates an empty overlay on top of base.
func NewOverlay(base Database) *Overlay {
	return &Overlay{base: base, writes: make(map[string][]byte)}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if value, ok := o.writes[string(key)]; ok {
		return append([]byte(nil), value...), nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Put(key []byte, value []byte) error {
	k := string(key)
	if _, ok := o.writes[k]; !ok {
		o.order = append(o.order, k)
	}
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

// WriteBatch buffers the writes; they reach the base only on Commit.
func (o *Overlay) WriteBatch(writes []KV) error {
	for _, w := range writes {
		if err := o.Put(w.Key, w.Value); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the number of distinct buffered keys.
func (o *Overlay) Pending() int { return len(o.order) }

// Commit flushes the buffered writes to the base database.
func (o *Overlay) Commit() error {
	if len(o.order) == 0 {
		return nil
	}
	batch := make([]KV, 0, len(o.order))
	for _, k := range o.order {
		batch = append(batch, KV{Key: []byte(k), Value: o.writes[k]})
	}
	if err := o.base.WriteBatch(batch); err != nil {
		return fmt.Errorf("storage: commit overlay: %w", err)
	}
	o.reset()
	return nil
}

// Discard drops all buffered writes.
func (o *Overlay) Discard() { o.reset() }

func (o *Overlay) reset() {
	o.writes = make(map[string][]byte)
	o.order = nil
}

// Close is a no-op; the base database owns the underlying resources.
func (o *Overlay) Close() {}
