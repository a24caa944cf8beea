// Package topics holds the fixed set of topics shared by publishers and subscribers.
package topics

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/G-Research/fluxbench/internal/common/util"
	"github.com/G-Research/fluxbench/internal/fluxbench/fluxerrors"
)

const DefaultPrefix = "test-topic"

// Sampler returns uniformly random members of an immutable topic set.
// It is safe for concurrent use.
type Sampler struct {
	topics []string
	index  map[string]struct{}
	random *rand.Rand
}

// Name returns the i-th topic name for prefix, e.g. test-topic-3.
func Name(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}

// NewSampler creates the topic set {prefix-0, ..., prefix-(count-1)}. A zero seed seeds from the clock.
func NewSampler(prefix string, count int, seed int64) (*Sampler, error) {
	if count <= 0 {
		return nil, errors.WithStack(&fluxerrors.ErrInvalidArgument{
			Name:    "topics.count",
			Value:   count,
			Message: "at least one topic is required",
		})
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	topics := make([]string, count)
	index := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		topics[i] = Name(prefix, i)
		index[topics[i]] = struct{}{}
	}
	return &Sampler{
		topics: topics,
		index:  index,
		random: util.NewSeededRand(seed),
	}, nil
}

// Next returns a uniformly random topic.
func (s *Sampler) Next() string {
	return s.topics[s.random.Intn(len(s.topics))]
}

// Topics returns a copy of the topic set.
func (s *Sampler) Topics() []string {
	return append([]string{}, s.topics...)
}

func (s *Sampler) contains(topic string) bool {
	_, ok := s.index[topic]
	return ok
}

func (s *Sampler) Len() int {
	return len(s.topics)
}
