package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/availability"
	"github.com/hackgods/consultation-escrow/internal/config"
	"github.com/hackgods/consultation-escrow/internal/db"
	"github.com/hackgods/consultation-escrow/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	CallRatio     float64
	ProviderLimit int
	Payers        int
}

type candidate struct {
	ProviderID uuid.UUID
	Start      time.Time
	End        time.Time
}

type accepted struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	Start      time.Time
	End        time.Time
}

type DataPool struct {
	Payers     []uuid.UUID
	Candidates []candidate

	mu       sync.Mutex
	bookings []accepted
}

func (dp *DataPool) Add(b accepted) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) Take(rng *rand.Rand) (accepted, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.bookings) == 0 {
		return accepted{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

func (dp *DataPool) All() []accepted {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	out := make([]accepted, len(dp.bookings))
	copy(out, dp.bookings)
	return out
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}
	l := make([]time.Duration, len(om.Latencies))
	copy(l, om.Latencies)
	sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })

	return l[len(l)*50/100], l[min(len(l)*95/100, len(l)-1)], l[len(l)-1]
}

type Metrics struct {
	Booking OperationMetrics
	Begin   OperationMetrics
	End     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *zap.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("call_ratio", cfg.CallRatio))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg, baseCfg.Scheduling.Location)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data loaded",
		zap.Int("payers", len(dataPool.Payers)),
		zap.Int("candidate_slots", len(dataPool.Candidates)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	if overlaps := sim.Verify(context.Background()); overlaps > 0 {
		logger.Error("overlapping active bookings detected", zap.Int("pairs", overlaps))
		os.Exit(1)
	}
	logger.Info("no overlapping active bookings")
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       max(getInt("SIM_WORKERS", 10), 1),
		CallRatio:     getFloat("SIM_CALL_RATIO", 0.3),
		ProviderLimit: getInt("SIM_PROVIDER_LIMIT", 20),
		Payers:        max(getInt("SIM_PAYERS", 200), 1),
	}
}

// loadDataPool builds bookable candidates on each provider's open days over
// the next week. Candidates deliberately overlap so workers contend.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, loc *time.Location) (*DataPool, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM providers ORDER BY created_at LIMIT $1`, cfg.ProviderLimit)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	var providers []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		providers = append(providers, id)
	}
	rows.Close()
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers found, run cmd/seed first")
	}

	store := availability.NewPgStore(pool)
	dp := &DataPool{}
	tomorrow := time.Now().In(loc).AddDate(0, 0, 1)
	day0 := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, loc)

	for _, id := range providers {
		weekly, err := store.GetWeekly(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("provider %s availability: %w", id, err)
		}
		for d := 0; d < 7; d++ {
			day := day0.AddDate(0, 0, d)
			w, ok := weekly[day.Weekday()]
			if !ok {
				continue
			}
			for m := w.StartMinute; m+15 <= w.EndMinute; m += 15 {
				for _, length := range []int{15, 30, 45} {
					if m+length > w.EndMinute {
						break
					}
					start := day.Add(time.Duration(m) * time.Minute)
					dp.Candidates = append(dp.Candidates, candidate{
						ProviderID: id,
						Start:      start,
						End:        start.Add(time.Duration(length) * time.Minute),
					})
				}
			}
		}
	}

	for i := 0; i < cfg.Payers; i++ {
		dp.Payers = append(dp.Payers, uuid.New())
	}
	if len(dp.Candidates) == 0 {
		return nil, fmt.Errorf("no open availability in the next week")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		if rng.Float64() < s.config.CallRatio {
			s.doCall(ctx, rng)
		} else {
			s.doBooking(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	c := s.pool.Candidates[rng.Intn(len(s.pool.Candidates))]
	payer := s.pool.Payers[rng.Intn(len(s.pool.Payers))]

	body, _ := json.Marshal(map[string]any{
		"payer_id":    payer,
		"provider_id": c.ProviderID,
		"slot_start":  c.Start,
		"slot_end":    c.End,
	})

	start := time.Now()
	var out struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.post(ctx, "/bookings", body, &out)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	if success && out.ID != uuid.Nil {
		s.pool.Add(accepted{ID: out.ID, ProviderID: c.ProviderID, Start: c.Start, End: c.End})
	}
	s.metrics.Booking.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doCall(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.Take(rng)
	if !ok {
		return
	}

	start := time.Now()
	var sess struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.post(ctx, "/bookings/"+b.ID.String()+"/calls", nil, &sess)
	began := err == nil && status == http.StatusCreated
	s.metrics.Begin.Record(time.Since(start), began, status == http.StatusConflict)
	if !began {
		return
	}

	start = time.Now()
	status, err = s.post(ctx, "/sessions/"+sess.ID.String()+"/end", nil, nil)
	s.metrics.End.Record(time.Since(start), err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) post(ctx context.Context, path string, body []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// Verify re-reads every accepted booking and counts pairs of still-active
// bookings that overlap on the same provider.
func (s *Simulator) Verify(ctx context.Context) int {
	byProvider := make(map[uuid.UUID][]accepted)
	for _, b := range s.pool.All() {
		st, err := s.status(ctx, b.ID)
		if err != nil {
			s.logger.Warn("verify lookup failed", zap.String("booking_id", b.ID.String()), zap.Error(err))
			continue
		}
		if st == "cancelled" {
			continue
		}
		byProvider[b.ProviderID] = append(byProvider[b.ProviderID], b)
	}

	overlaps := 0
	for _, list := range byProvider {
		sort.Slice(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })
		for i := 1; i < len(list); i++ {
			for j := i - 1; j >= 0; j-- {
				if list[i].Start.Before(list[j].End) {
					s.logger.Error("overlap",
						zap.String("first", list[j].ID.String()),
						zap.String("second", list[i].ID.String()))
					overlaps++
				}
			}
		}
	}
	return overlaps
}

func (s *Simulator) status(ctx context.Context, id uuid.UUID) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/bookings/"+id.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n\n", s.config.Workers)

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Begin call", &s.metrics.Begin)
	printOperationReport("End call", &s.metrics.End)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	p50, p95, worst := om.Percentiles()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: p50=%s p95=%s max=%s\n\n",
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), worst.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
