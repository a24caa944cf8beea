package topics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSampler_Topics(t *testing.T) {
	s, err := NewSampler("test-topic", 3, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"test-topic-0", "test-topic-1", "test-topic-2"}, s.Topics())
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.contains("test-topic-2"))
	assert.False(t, s.contains("test-topic-3"))
}

func TestNewSampler_DefaultPrefix(t *testing.T) {
	s, err := NewSampler("", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "test-topic-0", s.Next())
}

func TestNewSampler_InvalidCount(t *testing.T) {
	for _, count := range []int{0, -1} {
		_, err := NewSampler("test-topic", count, 1)
		assert.Error(t, err)
	}
}

func TestSampler_TopicsIsACopy(t *testing.T) {
	s, err := NewSampler("test-topic", 2, 1)
	require.NoError(t, err)

	topics := s.Topics()
	topics[0] = "mutated"

	assert.Equal(t, "test-topic-0", s.Topics()[0])
}

func TestSampler_NextStaysInSet(t *testing.T) {
	s, err := NewSampler("test-topic", 10, 0)
	require.NoError(t, err)

	allowed := map[string]bool{}
	for i := 0; i < 10; i++ {
		allowed[Name("test-topic", i)] = true
	}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		topic := s.Next()
		require.True(t, allowed[topic], "unexpected topic %s", topic)
		counts[topic]++
	}

	// Every topic should be hit with 10k samples; the expected count is 1000 each.
	assert.Len(t, counts, 10)
	for topic, count := range counts {
		assert.Greater(t, count, 700, topic)
		assert.Less(t, count, 1300, topic)
	}
}

func TestSampler_ConcurrentNext(t *testing.T) {
	s, err := NewSampler("test-topic", 5, 3)
	require.NoError(t, err)

	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				assert.True(t, s.contains(s.Next()))
			}
		}()
	}
	wg.Wait()
}
