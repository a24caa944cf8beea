// Package scheduler drives a weighted population of simulated users.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/G-Research/fluxbench/internal/common/util"
	"github.com/G-Research/fluxbench/internal/fluxbench/fluxerrors"
)

// User is one simulated user. Start is called once, then Task repeatedly until the run ends, then Stop.
// Task must not return errors; failures are reported as metric events by the user itself.
type User interface {
	Start(ctx context.Context) error
	Task(ctx context.Context)
	Stop() error
}

// UserType describes one kind of simulated user.
type UserType struct {
	Name string
	// Weight is this type's share of the population relative to the other types.
	Weight float64
	// Think time between tasks is drawn uniformly from [MinWait, MaxWait].
	MinWait time.Duration
	MaxWait time.Duration
	// MaxConcurrency bounds how many users of this type may be inside Task at once. Zero is unbounded.
	MaxConcurrency int64
	NewUser        func() User
}

type Scheduler struct {
	// Accessed atomically.
	active int64

	types  []UserType
	users  int
	random *rand.Rand
	clock  clock.Clock

	mu           sync.Mutex
	distribution map[string]int
}

func New(types []UserType, users int, seed int64) (*Scheduler, error) {
	if _, err := DistributeUsers(users, types); err != nil {
		return nil, err
	}
	for _, t := range types {
		if t.NewUser == nil {
			return nil, errors.WithStack(&fluxerrors.ErrInvalidArgument{
				Name:    fmt.Sprintf("%s.newUser", t.Name),
				Value:   nil,
				Message: "a user constructor is required",
			})
		}
		if t.MinWait < 0 || t.MaxWait < t.MinWait {
			return nil, errors.WithStack(&fluxerrors.ErrInvalidArgument{
				Name:    fmt.Sprintf("%s.maxWait", t.Name),
				Value:   t.MaxWait,
				Message: fmt.Sprintf("must be at least minWait %s and minWait must not be negative", t.MinWait),
			})
		}
	}
	return &Scheduler{
		types:        types,
		users:        users,
		random:       util.NewSeededRand(seed),
		clock:        clock.RealClock{},
		distribution: map[string]int{},
	}, nil
}

// DistributeUsers splits total users across types in proportion to their weights using the largest remainder
// method. Ties go to the type listed first.
func DistributeUsers(total int, types []UserType) ([]int, error) {
	if total < 0 {
		return nil, errors.WithStack(&fluxerrors.ErrInvalidArgument{
			Name:    "users",
			Value:   total,
			Message: "must not be negative",
		})
	}
	if len(types) == 0 {
		return nil, errors.WithStack(&fluxerrors.ErrInvalidArgument{
			Name:    "userTypes",
			Value:   0,
			Message: "at least one user type is required",
		})
	}
	sum := 0.0
	for _, t := range types {
		if t.Weight < 0 || math.IsNaN(t.Weight) || math.IsInf(t.Weight, 0) {
			return nil, errors.WithStack(&fluxerrors.ErrInvalidArgument{
				Name:    fmt.Sprintf("%s.weight", t.Name),
				Value:   t.Weight,
				Message: "must be a finite non-negative number",
			})
		}
		sum += t.Weight
	}
	if sum <= 0 {
		return nil, errors.WithStack(&fluxerrors.ErrInvalidArgument{
			Name:    "weight",
			Value:   sum,
			Message: "at least one user type must have a positive weight",
		})
	}

	counts := make([]int, len(types))
	remainders := make([]float64, len(types))
	assigned := 0
	for i, t := range types {
		quota := float64(total) * t.Weight / sum
		counts[i] = int(math.Floor(quota))
		remainders[i] = quota - float64(counts[i])
		assigned += counts[i]
	}
	order := make([]int, len(types))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) bool {
		return remainders[a] > remainders[b]
	})
	for i := 0; assigned < total; i++ {
		idx := order[i%len(order)]
		if types[idx].Weight > 0 {
			counts[idx]++
			assigned++
		}
	}
	return counts, nil
}

// Run starts every user and drives their task loops until ctx is cancelled. It then stops every user and
// waits for all loops to exit. Errors from stopping users are aggregated into the returned error.
func (s *Scheduler) Run(ctx context.Context) error {
	counts, err := DistributeUsers(s.users, s.types)
	if err != nil {
		return err
	}

	var users []User
	wg := sync.WaitGroup{}
	for i, t := range s.types {
		s.mu.Lock()
		s.distribution[t.Name] = counts[i]
		s.mu.Unlock()
		log.Infof("starting %d %s users", counts[i], t.Name)

		var sem *semaphore.Weighted
		if t.MaxConcurrency > 0 {
			sem = semaphore.NewWeighted(t.MaxConcurrency)
		}
		for j := 0; j < counts[i]; j++ {
			user := t.NewUser()
			users = append(users, user)
			wg.Add(1)
			go func(t UserType, user User) {
				defer wg.Done()
				s.runUser(ctx, t, user, sem)
			}(t, user)
		}
	}

	<-ctx.Done()
	log.Infof("stopping %d users", len(users))
	err = stopAll(users)
	wg.Wait()
	return err
}

func (s *Scheduler) runUser(ctx context.Context, t UserType, user User, sem *semaphore.Weighted) {
	atomic.AddInt64(&s.active, 1)
	defer atomic.AddInt64(&s.active, -1)

	if err := user.Start(ctx); err != nil {
		// The user stays in the population; its failure has already been reported as an event.
		log.WithField("userType", t.Name).Debugf("user failed to start: %s", err)
	}
	for ctx.Err() == nil {
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
		}
		user.Task(ctx)
		if sem != nil {
			sem.Release(1)
		}
		if !s.think(ctx, t) {
			return
		}
	}
}

// think waits for the user's think time. It returns false if ctx ended first.
func (s *Scheduler) think(ctx context.Context, t UserType) bool {
	wait := util.UniformDuration(s.random, t.MinWait, t.MaxWait)
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := s.clock.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}

func stopAll(users []User) error {
	var result *multierror.Error
	mu := sync.Mutex{}
	wg := sync.WaitGroup{}
	for _, user := range users {
		wg.Add(1)
		go func(user User) {
			defer wg.Done()
			if err := user.Stop(); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
		}(user)
	}
	wg.Wait()
	return result.ErrorOrNil()
}

// ActiveUsers is the number of users whose task loop is currently running.
func (s *Scheduler) ActiveUsers() int {
	return int(atomic.LoadInt64(&s.active))
}

// Distribution returns how many users of each type the current run started.
func (s *Scheduler) Distribution() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.distribution)
}
