package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) *Limiter {
	t.Helper()
	l, err := NewLimiter(Config{Limit: limit, Window: window})
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	return l
}

func TestNewLimiter_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero limit", Config{Limit: 0, Window: time.Second}},
		{"negative limit", Config{Limit: -1, Window: time.Second}},
		{"zero window", Config{Limit: 1, Window: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLimiter(tt.cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewLimiter() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLimiter_TwoPerSecond(t *testing.T) {
	l := newTestLimiter(t, 2, time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("first two acquisitions took %v, want near-instant", elapsed)
	}

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 950*time.Millisecond {
		t.Errorf("third acquisition returned after %v, want >= ~1s", elapsed)
	}
}

func TestLimiter_SlidingWindowNeverExceeded(t *testing.T) {
	const (
		limit   = 3
		window  = 100 * time.Millisecond
		callers = 12
	)
	l := newTestLimiter(t, limit, window)

	var (
		mu       sync.Mutex
		admitted []time.Time
		wg       sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			admitted = append(admitted, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(admitted) != callers {
		t.Fatalf("admitted %d callers, want %d", len(admitted), callers)
	}
	sort.Slice(admitted, func(i, j int) bool { return admitted[i].Before(admitted[j]) })

	// 12 callers at 3 per window need at least 3 further windows.
	if span := admitted[len(admitted)-1].Sub(start); span < 3*window {
		t.Errorf("admissions spanned %v, want >= %v", span, 3*window)
	}

	// Reserved slots: any limit+1 consecutive slots span at least a window.
	l.mu.Lock()
	stamps := append([]time.Time(nil), l.stamps...)
	l.mu.Unlock()
	for i := limit; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-limit]); gap < window {
			t.Errorf("slots %d and %d only %v apart, want >= %v", i-limit, i, gap, window)
		}
	}
}

func TestLimiter_FIFOOrder(t *testing.T) {
	l := newTestLimiter(t, 1, 30*time.Millisecond)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	order := make(chan int, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			order <- id
		}(i)
		// Stagger arrivals so reservation order is well defined.
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()
	close(order)

	want := 0
	for id := range order {
		if id != want {
			t.Errorf("admitted caller %d, want %d", id, want)
		}
		want++
	}
}

func TestLimiter_CancelReleasesReservation(t *testing.T) {
	l := newTestLimiter(t, 1, 200*time.Millisecond)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want DeadlineExceeded", err)
	}

	st := l.State()
	if st.Pending != 0 {
		t.Errorf("Pending = %d, want 0 after cancellation", st.Pending)
	}
	if st.InWindow != 1 {
		t.Errorf("InWindow = %d, want 1", st.InWindow)
	}
}

func TestLimiter_AcquireWithCancelledContext(t *testing.T) {
	l := newTestLimiter(t, 5, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want Canceled", err)
	}
	if st := l.State(); st.InWindow != 0 {
		t.Errorf("InWindow = %d, want 0", st.InWindow)
	}
}

func TestLimiter_PauseUntil(t *testing.T) {
	l := newTestLimiter(t, 100, time.Second)
	l.PauseUntil(time.Now().Add(80 * time.Millisecond))

	st := l.State()
	if !st.Saturated() {
		t.Error("paused limiter should report saturated")
	}
	if st.TimeUntilResume() <= 0 {
		t.Error("TimeUntilResume should be positive while paused")
	}

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("Acquire() returned after %v, want to wait for the pause", elapsed)
	}
}

func TestLimiter_PauseUntilIgnoresEarlierDeadline(t *testing.T) {
	l := newTestLimiter(t, 1, time.Second)
	later := time.Now().Add(time.Hour)
	l.PauseUntil(later)
	l.PauseUntil(time.Now().Add(time.Minute))

	if got := l.State().PausedUntil; !got.Equal(later) {
		t.Errorf("PausedUntil = %v, want %v", got, later)
	}
}

func TestLimiter_StatePrunesExpired(t *testing.T) {
	l := newTestLimiter(t, 2, 30*time.Millisecond)
	for i := 0; i < 2; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if st := l.State(); st.InWindow != 2 || !st.Saturated() {
		t.Errorf("State = %+v, want 2 in window and saturated", st)
	}

	time.Sleep(40 * time.Millisecond)
	if st := l.State(); st.InWindow != 0 || st.Saturated() {
		t.Errorf("State = %+v, want empty window", st)
	}
}
