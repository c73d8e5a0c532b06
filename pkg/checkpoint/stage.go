package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// ErrStageComplete is returned when recording into a completed stage
var ErrStageComplete = errors.New("stage is already complete")

// Option configures Open
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for restart and truncation notices
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Stage is the resumable state of one Monte-Carlo loop. Values hold only
// scored iterations; Iterations counts every computed iteration.
type Stage[T any] struct {
	store  Store
	name   string
	digest string
	total  int
	logger *zap.Logger

	iterations int
	values     []T
	complete   bool
}

// Open loads a stage or starts it fresh. A checkpoint written for another
// digest or another total is cleared. Trailing values beyond the recorded
// value count are dropped from the store.
func Open[T any](store Store, stage, digest string, total int, opts ...Option) (*Stage[T], error) {
	if store == nil {
		return nil, fmt.Errorf("open stage %q: nil store", stage)
	}
	if stage == "" {
		return nil, fmt.Errorf("open stage: empty name")
	}
	if digest == "" {
		return nil, fmt.Errorf("open stage %q: digest is required", stage)
	}
	if total < 1 {
		return nil, fmt.Errorf("open stage %q: total must be positive, got %d", stage, total)
	}

	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Stage[T]{
		store:  store,
		name:   stage,
		digest: digest,
		total:  total,
		logger: o.logger.With(zap.String("stage", stage), zap.String("digest", shortDigest(digest))),
	}

	meta, raw, err := store.Load(stage, digest)
	if err != nil {
		return nil, err
	}

	reason := ""
	switch {
	case meta == nil && len(raw) > 0:
		reason = "missing_meta"
	case meta == nil:
	case meta.Digest != digest:
		reason = "digest"
	case meta.Total != total:
		reason = "total"
	}

	if meta == nil || reason != "" {
		if reason != "" {
			restartsTotal.WithLabelValues(stage, reason).Inc()
			s.logger.Info("discarding checkpoint", zap.String("reason", reason))
			if err := store.Clear(stage, digest); err != nil {
				return nil, err
			}
		}
		if err := s.writeMeta(); err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := s.restore(meta, raw); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stage[T]) restore(meta *Meta, raw []json.RawMessage) error {
	keep := meta.Values
	if keep < 0 {
		keep = 0
	}
	if keep > len(raw) {
		keep = len(raw)
	}

	dirty := len(raw) > keep
	values := make([]T, 0, keep)
	for _, r := range raw[:keep] {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			dirty = true
			continue
		}
		values = append(values, v)
	}

	if dirty {
		s.logger.Info("truncating value log",
			zap.Int("stored", len(raw)),
			zap.Int("kept", len(values)))
		if err := s.rewrite(values); err != nil {
			return err
		}
	}

	s.values = values
	s.iterations = meta.Iterations
	if s.iterations < len(values) {
		s.iterations = len(values)
	}
	if s.iterations > s.total {
		s.iterations = s.total
	}
	s.complete = meta.Complete

	if dirty || s.iterations != meta.Iterations || len(values) != meta.Values {
		return s.writeMeta()
	}
	return nil
}

// rewrite replaces the stored values with values
func (s *Stage[T]) rewrite(values []T) error {
	if err := s.store.Truncate(s.name, s.digest, 0); err != nil {
		return err
	}
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return &StorageError{Op: "encode value", Stage: s.name, Err: err}
		}
		if err := s.store.Append(s.name, s.digest, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stage[T]) writeMeta() error {
	return s.store.WriteMeta(s.name, s.digest, Meta{
		Digest:     s.digest,
		Iterations: s.iterations,
		Values:     len(s.values),
		Complete:   s.complete,
		Total:      s.total,
	})
}

// Record stores the outcome of one iteration. A nil value marks an
// iteration that was computed but produced no score.
func (s *Stage[T]) Record(v *T) error {
	if s.complete {
		return fmt.Errorf("record into stage %q: %w", s.name, ErrStageComplete)
	}
	if v != nil {
		data, err := json.Marshal(*v)
		if err != nil {
			return &StorageError{Op: "encode value", Stage: s.name, Err: err}
		}
		if err := s.store.Append(s.name, s.digest, data); err != nil {
			return err
		}
		s.values = append(s.values, *v)
	}
	s.iterations++
	recordsTotal.WithLabelValues(s.name, strconv.FormatBool(v != nil)).Inc()
	return s.writeMeta()
}

// MarkComplete freezes the stage
func (s *Stage[T]) MarkComplete() error {
	if s.complete {
		return nil
	}
	s.complete = true
	completionsTotal.WithLabelValues(s.name).Inc()
	return s.writeMeta()
}

// Close flushes the metadata. The store stays open.
func (s *Stage[T]) Close() error {
	return s.writeMeta()
}

// Name returns the stage name
func (s *Stage[T]) Name() string { return s.name }

// Digest returns the stage digest
func (s *Stage[T]) Digest() string { return s.digest }

// Total returns the iteration cap
func (s *Stage[T]) Total() int { return s.total }

// Iterations returns the number of computed iterations, scored or not
func (s *Stage[T]) Iterations() int { return s.iterations }

// ValidCount returns the number of scored iterations
func (s *Stage[T]) ValidCount() int { return len(s.values) }

// Complete reports whether the stage was marked complete
func (s *Stage[T]) Complete() bool { return s.complete }

// Values returns a copy of the scored values in recording order
func (s *Stage[T]) Values() []T {
	out := make([]T, len(s.values))
	copy(out, s.values)
	return out
}
