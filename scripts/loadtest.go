package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"itemstore/internal/models"
	"itemstore/internal/worker"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Weighted task mix: get-one is the most common action, deletes are off by
// default because they drain the store the other tasks feed on.
const (
	weightListItems  = 3
	weightGetItem    = 5
	weightCreateItem = 2
	weightUpdateItem = 1
	weightDeleteItem = 1
)

type stats struct {
	requests int64
	failures int64
}

type loadUser struct {
	client   *http.Client
	addr     string
	rng      *rand.Rand
	deletes  bool
	mu       sync.Mutex
	knownIDs []int64
	seq      int64
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	var (
		addr     = flag.String("addr", "http://127.0.0.1:8080", "base URL of the item store API")
		users    = flag.Int("users", 5, "number of concurrent virtual users")
		duration = flag.Duration("duration", 30*time.Second, "how long to run")
		rps      = flag.Float64("rps", 20, "request rate shared across all users")
		deletes  = flag.Bool("deletes", false, "include delete tasks in the mix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := awaitReady(ctx, *addr, &logger); err != nil {
		return fmt.Errorf("service not ready: %w", err)
	}

	logger.Info().
		Str("addr", *addr).
		Int("users", *users).
		Dur("duration", *duration).
		Float64("rps", *rps).
		Msg("starting load run")

	runCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), int(*rps)+1)
	var st stats
	var wg sync.WaitGroup
	for i := 0; i < *users; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			user := &loadUser{
				client:  &http.Client{Timeout: 10 * time.Second},
				addr:    *addr,
				rng:     rand.New(rand.NewSource(seed)),
				deletes: *deletes,
			}
			user.loop(runCtx, limiter, &st)
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()

	requests := atomic.LoadInt64(&st.requests)
	failures := atomic.LoadInt64(&st.failures)
	logger.Info().
		Int64("requests", requests).
		Int64("failures", failures).
		Float64("actual_rps", float64(requests)/duration.Seconds()).
		Msg("load run finished")

	if failures > 0 {
		return fmt.Errorf("%d of %d requests failed", failures, requests)
	}
	return nil
}

// awaitReady polls /healthz with backoff so the run can start right after the
// service process.
func awaitReady(ctx context.Context, addr string, logger *zerolog.Logger) error {
	policy := worker.RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2,
	}
	return policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/healthz", http.NoBody)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			logger.Warn().Err(err).Msg("waiting for service")
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("healthz returned %d", resp.StatusCode)
		}
		return nil
	})
}

func (u *loadUser) loop(ctx context.Context, limiter *rate.Limiter, st *stats) {
	totalWeight := weightListItems + weightGetItem + weightCreateItem + weightUpdateItem
	if u.deletes {
		totalWeight += weightDeleteItem
	}

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		var err error
		pick := u.rng.Intn(totalWeight)
		switch {
		case pick < weightListItems:
			err = u.listItems(ctx)
		case pick < weightListItems+weightGetItem:
			err = u.getItem(ctx)
		case pick < weightListItems+weightGetItem+weightCreateItem:
			err = u.createItem(ctx)
		case pick < weightListItems+weightGetItem+weightCreateItem+weightUpdateItem:
			err = u.updateItem(ctx)
		default:
			err = u.deleteItem(ctx)
		}

		atomic.AddInt64(&st.requests, 1)
		if err != nil {
			atomic.AddInt64(&st.failures, 1)
		}
	}
}

func (u *loadUser) listItems(ctx context.Context) error {
	return u.do(ctx, http.MethodGet, "/api/items", nil, http.StatusOK)
}

func (u *loadUser) getItem(ctx context.Context) error {
	id, ok := u.randomKnownID()
	if !ok {
		// Nothing created yet; a miss on id 1 is still a valid probe.
		return u.do(ctx, http.MethodGet, "/api/items/1", nil, http.StatusOK, http.StatusNotFound)
	}
	// A 404 is fine: another user may have deleted the item meanwhile.
	return u.do(ctx, http.MethodGet, fmt.Sprintf("/api/items/%d", id), nil, http.StatusOK, http.StatusNotFound)
}

func (u *loadUser) createItem(ctx context.Context) error {
	seq := atomic.AddInt64(&u.seq, 1)
	payload := map[string]string{
		"name":        fmt.Sprintf("TestItem_%d_%d", os.Getpid(), seq),
		"description": "generated by loadtest",
	}

	var created models.Item
	if err := u.doJSON(ctx, http.MethodPost, "/api/items", payload, &created, http.StatusCreated); err != nil {
		return err
	}

	u.mu.Lock()
	u.knownIDs = append(u.knownIDs, created.ID)
	u.mu.Unlock()
	return nil
}

func (u *loadUser) updateItem(ctx context.Context) error {
	id, ok := u.randomKnownID()
	if !ok {
		return nil
	}
	payload := map[string]string{"description": fmt.Sprintf("updated at %s", time.Now().Format(time.RFC3339Nano))}
	return u.do(ctx, http.MethodPut, fmt.Sprintf("/api/items/%d", id), payload, http.StatusOK, http.StatusNotFound)
}

func (u *loadUser) deleteItem(ctx context.Context) error {
	id, ok := u.takeKnownID()
	if !ok {
		return nil
	}
	return u.do(ctx, http.MethodDelete, fmt.Sprintf("/api/items/%d", id), nil, http.StatusNoContent, http.StatusNotFound)
}

func (u *loadUser) randomKnownID() (int64, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.knownIDs) == 0 {
		return 0, false
	}
	return u.knownIDs[u.rng.Intn(len(u.knownIDs))], true
}

func (u *loadUser) takeKnownID() (int64, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.knownIDs) == 0 {
		return 0, false
	}
	i := u.rng.Intn(len(u.knownIDs))
	id := u.knownIDs[i]
	u.knownIDs = append(u.knownIDs[:i], u.knownIDs[i+1:]...)
	return id, true
}

func (u *loadUser) do(ctx context.Context, method, path string, payload any, wantStatuses ...int) error {
	return u.doJSON(ctx, method, path, payload, nil, wantStatuses...)
}

func (u *loadUser) doJSON(ctx context.Context, method, path string, payload, out any, wantStatuses ...int) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.addr+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for _, want := range wantStatuses {
		if resp.StatusCode == want {
			if out != nil {
				return json.NewDecoder(resp.Body).Decode(out)
			}
			return nil
		}
	}
	return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
}
