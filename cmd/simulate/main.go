package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"

	"github.com/alefm12/jAgendamento-sub001/internal/config"
	"github.com/alefm12/jAgendamento-sub001/internal/logging"
)

const simActor = "system:simulator"

type SimConfig struct {
	APIBaseURL   string        `env:"SIM_API_BASE_URL"   env-default:"http://localhost:8080"`
	Duration     time.Duration `env:"SIM_DURATION"       env-default:"30s"`
	Workers      int           `env:"SIM_WORKERS"        env-default:"10"`
	Days         int           `env:"SIM_DAYS"           env-default:"5"`
	BookingRatio float64       `env:"SIM_BOOKING_RATIO"  env-default:"0.4"`
	ConfirmRatio float64       `env:"SIM_CONFIRM_RATIO"  env-default:"0.2"`
	CallRatio    float64       `env:"SIM_CALL_RATIO"     env-default:"0.1"`
	ReadRatio    float64       `env:"SIM_READ_RATIO"     env-default:"0.3"`
}

// DataPool holds what the workers pick from. Appointment ids grow as bookings succeed.
type DataPool struct {
	Locations    []string
	Dates        []string
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

// Record counts a 2xx as success and a 409 or 429 as an expected conflict.
func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict, status == http.StatusTooManyRequests:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[len(latencies)*95/100]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

type Metrics struct {
	Booking OperationMetrics
	Confirm OperationMetrics
	Call    OperationMetrics
	Read    OperationMetrics
	Slots   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics
}

func main() {
	base, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := logging.New(base.Env, base.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var cfg SimConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		logger.Fatal("read simulator config", zap.Error(err))
	}
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid simulator config", zap.Error(err))
	}
	normalize(&cfg)

	cal, err := base.Calendar()
	if err != nil {
		logger.Fatal("calendar config", zap.Error(err))
	}
	pool := &DataPool{Dates: upcomingDates(time.Now().In(cal.Settings.TimeZone), cfg.Days)}
	for _, loc := range cal.Locations {
		pool.Locations = append(pool.Locations, loc.ID)
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Strings("locations", pool.Locations))

	sim := &Simulator{
		config: cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	sim.Run()
	sim.PrintReport()
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 {
		return fmt.Errorf("SIM_DAYS must be > 0")
	}
	return nil
}

func normalize(cfg *SimConfig) {
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CallRatio + cfg.ReadRatio
	if total <= 0 {
		return
	}
	cfg.BookingRatio /= total
	cfg.ConfirmRatio /= total
	cfg.CallRatio /= total
	cfg.ReadRatio /= total
}

func upcomingDates(now time.Time, days int) []string {
	out := make([]string, 0, days)
	for d := 1; len(out) < days; d++ {
		day := now.AddDate(0, 0, d)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		out = append(out, day.Format("2006-01-02"))
	}
	return out
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
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio+s.config.CallRatio:
			s.doCall(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doRead(ctx, rng)
			} else {
				s.doSlots(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Locations) == 0 {
		return
	}
	loc := s.pool.Locations[rng.Intn(len(s.pool.Locations))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	var slotsResp struct {
		Slots []struct {
			Time string `json:"time"`
		} `json:"slots"`
	}
	if status, _ := s.send(ctx, http.MethodGet, "/locations/"+loc+"/slots?date="+date, nil, &slotsResp); status != http.StatusOK || len(slotsResp.Slots) == 0 {
		return
	}

	body := map[string]string{
		"locationId":  loc,
		"date":        date,
		"time":        slotsResp.Slots[rng.Intn(len(slotsResp.Slots))].Time,
		"citizenId":   gofakeit.Numerify("###########"),
		"citizenName": gofakeit.Name(),
	}
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency := s.send(ctx, http.MethodPost, "/appointments", body, &created)
	if status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID)
	}
	s.metrics.Booking.Record(latency, status)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency := s.send(ctx, http.MethodPost, "/appointments/"+id.String()+"/confirm", nil, nil)
	s.metrics.Confirm.Record(latency, status)
}

func (s *Simulator) doCall(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	body := map[string]string{"room": fmt.Sprintf("Room %d", rng.Intn(4)+1)}
	status, latency := s.send(ctx, http.MethodPost, "/appointments/"+id.String()+"/call", body, nil)
	s.metrics.Call.Record(latency, status)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency := s.send(ctx, http.MethodGet, "/appointments/"+id.String(), nil, nil)
	s.metrics.Read.Record(latency, status)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Locations) == 0 {
		return
	}
	loc := s.pool.Locations[rng.Intn(len(s.pool.Locations))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]
	status, latency := s.send(ctx, http.MethodGet, "/locations/"+loc+"/slots?date="+date, nil, nil)
	s.metrics.Slots.Record(latency, status)
}

// send returns 0 as status when the request itself failed.
func (s *Simulator) send(ctx context.Context, method, path string, body, out any) (int, time.Duration) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", simActor)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("request failed", zap.String("path", path), zap.Error(err))
		}
		return 0, latency
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Call", &s.metrics.Call)
	printOperationReport("Read by ID", &s.metrics.Read)
	printOperationReport("Available slots", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}
