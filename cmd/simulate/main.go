package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/consistency"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/registry"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type SimConfig struct {
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ModifyRatio  float64
	ReadRatio    float64
	HorizonDays  int
}

// DataPool is what the workers draw from: the seeded directories plus the
// reservations created during the run.
type DataPool struct {
	Patients     []string
	Doctors      []string
	Departments  []string
	mu           sync.RWMutex
	reservations []string
}

func (dp *DataPool) AddReservation(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.reservations = append(dp.reservations, id)
}

func (dp *DataPool) RandomReservation(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.reservations) == 0 {
		return "", false
	}
	return dp.reservations[rng.Intn(len(dp.reservations))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

// Record classifies err: nil is a success, a state conflict (taken slot,
// busy writer, terminal reservation) is expected contention, anything
// else is an error.
func (om *OperationMetrics) Record(latency time.Duration, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil:
		atomic.AddInt64(&om.Success, 1)
	case errors.Is(err, appointment.ErrStateConflict):
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return sum / time.Duration(n), latencies[0], latencies[n-1], latencies[min(n*50/100, n-1)], latencies[min(n*95/100, n-1)]
}

type Metrics struct {
	Booking      OperationMetrics
	Cancel       OperationMetrics
	Modify       OperationMetrics
	History      OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	svc     *appointment.Service
	clock   *clock.VirtualClock
	log     zerolog.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(baseCfg.LogLevel, baseCfg.Env)

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid simulation config")
	}
	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("modify", cfg.ModifyRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx := context.Background()
	sim, closeFn, err := newSimulator(ctx, baseCfg, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("simulator setup")
	}
	defer closeFn()

	sim.Run()
	sim.PrintReport()

	report, err := consistency.Validate(baseCfg.DataDir)
	if err != nil {
		log.Error().Err(err).Msg("data directory is inconsistent after the run")
		os.Exit(1)
	}
	fmt.Printf("Integrity check passed: %d active reservations over %d dates\n", report.Reservations, report.Dates)
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.15),
		ModifyRatio:  getFloat("SIM_MODIFY_RATIO", 0.15),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		HorizonDays:  getInt("SIM_HORIZON_DAYS", 14),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ModifyRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ModifyRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HorizonDays <= 0 {
		return fmt.Errorf("SIM_HORIZON_DAYS must be > 0")
	}
	return nil
}

// newSimulator opens the data directory the way the CLI does. With
// REDIS_URL set, several simulator processes can share one directory.
func newSimulator(ctx context.Context, base config.Config, cfg SimConfig, log zerolog.Logger) (*Simulator, func() error, error) {
	depts, err := registry.LoadDepartments(base.DataDir)
	if err != nil {
		return nil, nil, err
	}
	doctors, err := registry.LoadDoctors(base.DataDir)
	if err != nil {
		return nil, nil, err
	}
	patients, err := registry.LoadPatients(base.DataDir)
	if err != nil {
		return nil, nil, err
	}
	clk, err := clock.Load(base.DataDir, base.ClockYear)
	if err != nil {
		return nil, nil, err
	}
	locker, closeFn, err := redisclient.NewWriterLocker(ctx, base.RedisAddr, base.RedisUsername, base.RedisPassword, base.LockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis connection error: %w", err)
	}

	svc := appointment.NewService(
		appointment.NewStores(base.DataDir),
		appointment.Directories{Doctors: doctors, Patients: patients, Departments: depts},
		clk,
		locker,
		appointment.NewLogEventSink(log.Level(zerolog.WarnLevel)),
		base,
		log.Level(zerolog.WarnLevel),
	)
	if _, err := svc.Recover(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}

	pool := &DataPool{Doctors: doctors.IDs()}
	for _, p := range patients.All() {
		pool.Patients = append(pool.Patients, p.ID)
	}
	for _, d := range depts.All() {
		pool.Departments = append(pool.Departments, d.Code)
	}
	if len(pool.Patients) == 0 || len(pool.Doctors) == 0 {
		closeFn()
		return nil, nil, fmt.Errorf("no patients or doctors in %s, run seed first", base.DataDir)
	}
	log.Info().Int("patients", len(pool.Patients)).Int("doctors", len(pool.Doctors)).Msg("loaded data pool")

	return &Simulator{config: cfg, pool: pool, svc: svc, clock: clk, log: log}, closeFn, nil
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
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.ModifyRatio:
			s.doModify(ctx, rng)
		case rng.Intn(2) == 0:
			s.doHistory(ctx, rng)
		default:
			s.doAvailability(ctx, rng)
		}
	}
}

// pickSlot draws a doctor, a day in the horizon and one of its free slots.
func (s *Simulator) pickSlot(ctx context.Context, rng *rand.Rand, doctorID string) (time.Time, string, bool) {
	date := s.clock.Today().AddDate(0, 0, 1+rng.Intn(s.config.HorizonDays))
	avail, err := s.svc.AvailableSlots(ctx, doctorID, &date)
	if err != nil || len(avail) == 0 || len(avail[0].Slots) == 0 {
		return time.Time{}, "", false
	}
	free := avail[0].Slots
	return date, slot.Format(free[rng.Intn(len(free))]), true
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	date, at, ok := s.pickSlot(ctx, rng, doctorID)
	if !ok {
		return
	}
	who := appointment.StaticIdentity{ID: s.pool.Patients[rng.Intn(len(s.pool.Patients))], Role: appointment.RolePatient}

	start := time.Now()
	res, err := s.svc.Create(ctx, who, appointment.CreateRequest{DoctorRef: doctorID, Date: date, Time: at})
	s.metrics.Booking.Record(time.Since(start), err)
	if err == nil {
		s.pool.AddReservation(res.Record.ID)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomReservation(rng)
	if !ok {
		return
	}
	start := time.Now()
	_, err := s.svc.Cancel(ctx, appointment.Admin, id)
	s.metrics.Cancel.Record(time.Since(start), err)
}

func (s *Simulator) doModify(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomReservation(rng)
	if !ok {
		return
	}
	rec, err := s.svc.Reservation(ctx, appointment.Admin, id)
	if err != nil {
		return
	}
	date, at, ok := s.pickSlot(ctx, rng, rec.DoctorID)
	if !ok {
		return
	}
	start := time.Now()
	_, err = s.svc.Modify(ctx, appointment.Admin, id, date, at)
	s.metrics.Modify.Record(time.Since(start), err)
}

func (s *Simulator) doHistory(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	start := time.Now()
	_, err := s.svc.PatientReservations(ctx, appointment.Admin, patientID)
	s.metrics.History.Record(time.Since(start), err)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	dept := s.pool.Departments[rng.Intn(len(s.pool.Departments))]
	start := time.Now()
	_, err := s.svc.AvailableSlots(ctx, dept, nil)
	s.metrics.Availability.Record(time.Since(start), err)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Modify", &s.metrics.Modify)
	printOperationReport("Patient history", &s.metrics.History)
	printOperationReport("Department availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Microsecond), lo.Round(time.Microsecond), hi.Round(time.Microsecond),
		p50.Round(time.Microsecond), p95.Round(time.Microsecond))
	fmt.Println()
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
