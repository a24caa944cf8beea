package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/fluxbench/internal/fluxbench/fluxerrors"
)

type fakeUser struct {
	started  int32
	stopped  int32
	tasks    int64
	startErr error
	stopErr  error
	taskTime time.Duration
	inFlight *int64
	peak     *int64
}

func (u *fakeUser) Start(_ context.Context) error {
	atomic.AddInt32(&u.started, 1)
	return u.startErr
}

func (u *fakeUser) Task(ctx context.Context) {
	atomic.AddInt64(&u.tasks, 1)
	if u.inFlight != nil {
		n := atomic.AddInt64(u.inFlight, 1)
		for {
			peak := atomic.LoadInt64(u.peak)
			if n <= peak || atomic.CompareAndSwapInt64(u.peak, peak, n) {
				break
			}
		}
		defer atomic.AddInt64(u.inFlight, -1)
	}
	if u.taskTime > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(u.taskTime):
		}
	}
}

func (u *fakeUser) Stop() error {
	atomic.AddInt32(&u.stopped, 1)
	return u.stopErr
}

type population struct {
	users []*fakeUser
}

func (p *population) factory(template fakeUser) func() User {
	return func() User {
		user := template
		p.users = append(p.users, &user)
		return &user
	}
}

func TestDistributeUsers(t *testing.T) {
	tests := map[string]struct {
		total    int
		weights  []float64
		expected []int
	}{
		"publishers and subscribers":           {total: 10, weights: []float64{0.2, 0.8}, expected: []int{2, 8}},
		"single user goes to the heavier type": {total: 1, weights: []float64{0.2, 0.8}, expected: []int{0, 1}},
		"equal weights":                        {total: 3, weights: []float64{1, 1, 1}, expected: []int{1, 1, 1}},
		"tie goes to the first type":           {total: 7, weights: []float64{1, 1}, expected: []int{4, 3}},
		"largest remainder":                    {total: 10, weights: []float64{7, 7, 6}, expected: []int{4, 3, 3}},
		"zero users":                           {total: 0, weights: []float64{0.2, 0.8}, expected: []int{0, 0}},
		"zero weight type gets nobody":         {total: 5, weights: []float64{0, 1}, expected: []int{0, 5}},
		"publishers outnumber subscribers":     {total: 110, weights: []float64{10, 1}, expected: []int{100, 10}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			types := make([]UserType, len(tc.weights))
			for i, w := range tc.weights {
				types[i] = UserType{Name: "type", Weight: w}
			}
			counts, err := DistributeUsers(tc.total, types)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, counts)

			sum := 0
			for _, n := range counts {
				sum += n
			}
			assert.Equal(t, tc.total, sum)
		})
	}
}

func TestDistributeUsers_Invalid(t *testing.T) {
	tests := map[string]struct {
		total   int
		weights []float64
	}{
		"negative users":   {total: -1, weights: []float64{1}},
		"no types":         {total: 1, weights: nil},
		"negative weight":  {total: 1, weights: []float64{-1, 2}},
		"all zero weights": {total: 1, weights: []float64{0, 0}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var types []UserType
			for _, w := range tc.weights {
				types = append(types, UserType{Name: "type", Weight: w})
			}
			_, err := DistributeUsers(tc.total, types)
			var invalid *fluxerrors.ErrInvalidArgument
			assert.True(t, errors.As(err, &invalid))
		})
	}
}

func TestNew_Invalid(t *testing.T) {
	_, err := New([]UserType{{Name: "publisher", Weight: 1}}, 1, 1)
	assert.Error(t, err)

	p := &population{}
	_, err = New([]UserType{{Name: "publisher", Weight: 1, MinWait: 5 * time.Millisecond, MaxWait: time.Millisecond, NewUser: p.factory(fakeUser{})}}, 1, 1)
	assert.Error(t, err)
}

func TestScheduler_Run(t *testing.T) {
	publishers := &population{}
	subscribers := &population{}
	s, err := New([]UserType{
		{Name: "publisher", Weight: 0.2, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond, NewUser: publishers.factory(fakeUser{})},
		{Name: "subscriber", Weight: 0.8, NewUser: subscribers.factory(fakeUser{taskTime: 10 * time.Millisecond})},
	}, 10, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error)
	go func() { finished <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.ActiveUsers() == 10 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 0, s.ActiveUsers())
	assert.Equal(t, map[string]int{"publisher": 2, "subscriber": 8}, s.Distribution())

	require.Len(t, publishers.users, 2)
	require.Len(t, subscribers.users, 8)
	for _, u := range append(publishers.users, subscribers.users...) {
		assert.Equal(t, int32(1), atomic.LoadInt32(&u.started))
		assert.Equal(t, int32(1), atomic.LoadInt32(&u.stopped))
		assert.Greater(t, atomic.LoadInt64(&u.tasks), int64(0))
	}
}

func TestScheduler_ThinkTimeSpacesTasks(t *testing.T) {
	p := &population{}
	s, err := New([]UserType{
		{Name: "publisher", Weight: 1, MinWait: 40 * time.Millisecond, MaxWait: 40 * time.Millisecond, NewUser: p.factory(fakeUser{})},
	}, 1, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	require.Len(t, p.users, 1)
	tasks := atomic.LoadInt64(&p.users[0].tasks)
	assert.GreaterOrEqual(t, tasks, int64(1))
	assert.LessOrEqual(t, tasks, int64(4))
}

func TestScheduler_MaxConcurrency(t *testing.T) {
	var inFlight, peak int64
	p := &population{}
	s, err := New([]UserType{
		{
			Name:           "publisher",
			Weight:         1,
			MaxConcurrency: 2,
			NewUser:        p.factory(fakeUser{taskTime: 5 * time.Millisecond, inFlight: &inFlight, peak: &peak}),
		},
	}, 10, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
	assert.Greater(t, atomic.LoadInt64(&peak), int64(0))
}

func TestScheduler_FailedStartKeepsUserInPopulation(t *testing.T) {
	p := &population{}
	s, err := New([]UserType{
		{Name: "subscriber", Weight: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond, NewUser: p.factory(fakeUser{startErr: errors.New("refused")})},
	}, 3, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	for _, u := range p.users {
		assert.Greater(t, atomic.LoadInt64(&u.tasks), int64(0))
		assert.Equal(t, int32(1), atomic.LoadInt32(&u.stopped))
	}
}

func TestScheduler_StopErrorsAreAggregated(t *testing.T) {
	p := &population{}
	s, err := New([]UserType{
		{Name: "subscriber", Weight: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond, NewUser: p.factory(fakeUser{stopErr: errors.New("close failed")})},
	}, 2, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Run(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.Contains(t, err.Error(), "close failed")
}
