package radio

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/events"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/timeutil"
)

// Config holds the discovery parameters.
type Config struct {
	ServiceUUID      uuid.UUID
	RSSIThreshold    int // dBm, sightings below are ignored
	StalenessWindow  time.Duration
	SweepInterval    time.Duration
	ScanTimeout      time.Duration // length of one scan cycle
	RSSIAt1m         float64
	PathLossExponent float64
	AdvertiseName    string
}

// State is a snapshot of the radio subsystem.
type State struct {
	Scanning    bool
	Advertising bool
	Available   bool
	Devices     []Device
	Err         error
}

// Stats counts sightings since the aggregator was created.
type Stats struct {
	Accepted   uint64
	Rejected   uint64
	Evicted    uint64
	ScanCycles uint64
}

// Aggregator maintains the set of peers advertising the shared service.
type Aggregator struct {
	cfg        Config
	scanner    Scanner
	advertiser Advertiser
	clock      timeutil.Clock
	log        logger.Logger
	updates    chan []Device

	opMu        sync.Mutex // serializes start/stop commands
	mu          sync.Mutex
	devices     map[string]Device
	scanning    bool
	advertising bool
	available   bool
	lastErr     error
	cancel      context.CancelFunc
	scanCtx     context.Context // identifies the current scan session
	wg          sync.WaitGroup

	accepted   atomic.Uint64
	rejected   atomic.Uint64
	evicted    atomic.Uint64
	scanCycles atomic.Uint64
}

// NewAggregator creates an idle aggregator. A nil advertiser is replaced by
// NoopAdvertiser.
func NewAggregator(cfg Config, scanner Scanner, advertiser Advertiser, clock timeutil.Clock, log logger.Logger) *Aggregator {
	if advertiser == nil {
		advertiser = NoopAdvertiser{}
	}
	if log == nil {
		log = GetLogger()
	}

	return &Aggregator{
		cfg:        cfg,
		scanner:    scanner,
		advertiser: advertiser,
		clock:      timeutil.OrReal(clock),
		log:        log.Module("aggregator"),
		updates:    make(chan []Device, 1),
		devices:    make(map[string]Device),
	}
}

// Updates delivers the device list after every change. Only the latest list
// is buffered.
func (a *Aggregator) Updates() <-chan []Device {
	return a.updates
}

// HandleSighting filters s and upserts it. It reports whether it was accepted.
func (a *Aggregator) HandleSighting(s Sighting) bool {
	if s.ID == "" || s.RSSI < a.cfg.RSSIThreshold || !s.HasService(a.cfg.ServiceUUID) {
		a.rejected.Add(1)
		return false
	}

	dev := Device{
		ID:       s.ID,
		Name:     s.DisplayName(),
		RSSI:     s.RSSI,
		Distance: EstimateDistance(s.RSSI, a.cfg.RSSIAt1m, a.cfg.PathLossExponent),
		LastSeen: a.clock.Now(),
	}

	a.mu.Lock()
	_, known := a.devices[s.ID]
	a.devices[s.ID] = dev
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.accepted.Add(1)
	if !known {
		a.log.Debug("peer discovered",
			logger.String("device_id", dev.ID),
			logger.String("name", dev.Name),
			logger.Int("rssi", dev.RSSI),
			logger.Float64("distance_m", dev.Distance))
	}

	events.SendLatest(a.updates, snapshot)
	return true
}

// Sweep evicts devices not seen within the staleness window and republishes
// the list. It returns the number of evicted devices.
func (a *Aggregator) Sweep() int {
	now := a.clock.Now()

	a.mu.Lock()
	var removed int
	for id, dev := range a.devices {
		if now.Sub(dev.LastSeen) > a.cfg.StalenessWindow {
			delete(a.devices, id)
			removed++
			a.log.Debug("peer evicted", logger.String("device_id", id),
				logger.Duration("age", now.Sub(dev.LastSeen)))
		}
	}
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.evicted.Add(uint64(removed))
	events.SendLatest(a.updates, snapshot)
	return removed
}

// Devices returns the current list ordered by distance, then ID.
func (a *Aggregator) Devices() []Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() []Device {
	list := make([]Device, 0, len(a.devices))
	for _, dev := range a.devices {
		list = append(list, dev)
	}
	slices.SortFunc(list, func(x, y Device) int {
		return cmp.Or(cmp.Compare(x.Distance, y.Distance), cmp.Compare(x.ID, y.ID))
	})
	return list
}

// CheckAvailability queries the platform radio and records the result.
func (a *Aggregator) CheckAvailability(ctx context.Context) bool {
	err := a.scanner.Available(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.available = err == nil
	if err != nil {
		a.lastErr = errors.HardwareError(err, "radio")
		a.log.Warn("radio unavailable", logger.Error(err))
	}
	return a.available
}

// StartScanning begins repeated scan cycles and the staleness sweep. Starting
// twice is a no-op. An unavailable radio yields HardwareUnavailable and no
// state change beyond the error field.
func (a *Aggregator) StartScanning(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.mu.Lock()
	if a.scanning && a.scanCtx.Err() == nil {
		a.mu.Unlock()
		return nil
	}
	// a session whose parent context ended but whose loop has not yet
	// noticed is released here so the new one can start
	a.releaseScanLocked(a.scanCtx)
	a.mu.Unlock()

	if !a.CheckAvailability(ctx) {
		return a.State().Err
	}

	scanCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.scanning = true
	a.lastErr = nil
	a.cancel = cancel
	a.scanCtx = scanCtx
	a.mu.Unlock()

	a.wg.Add(2)
	go a.scanLoop(scanCtx)
	go a.sweepLoop(scanCtx)

	a.log.Info("scanning started",
		logger.String("service_uuid", a.cfg.ServiceUUID.String()),
		logger.Int("rssi_threshold", a.cfg.RSSIThreshold))
	return nil
}

// StopScanning ends scanning and waits for the scan goroutines. Stopping
// when not scanning is a no-op.
func (a *Aggregator) StopScanning() {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.scanCtx = nil
	a.scanning = false
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	a.wg.Wait()

	a.log.Info("scanning stopped")
}

// IsScanning reports whether scan cycles are active.
func (a *Aggregator) IsScanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

// StartAdvertising makes this device discoverable. The advertising flag
// reflects intent and is set even when the advertiser is a no-op.
func (a *Aggregator) StartAdvertising(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	if a.IsAdvertising() {
		return nil
	}

	if err := a.advertiser.Start(ctx, a.cfg.AdvertiseName, a.cfg.ServiceUUID); err != nil {
		hwErr := errors.HardwareError(err, "radio")
		a.mu.Lock()
		a.lastErr = hwErr
		a.mu.Unlock()
		a.log.Error("failed to start advertising", logger.Error(err))
		return hwErr
	}

	a.mu.Lock()
	a.advertising = true
	a.mu.Unlock()

	a.log.Info("advertising started", logger.String("name", a.cfg.AdvertiseName))
	return nil
}

// StopAdvertising stops advertising. Stopping when idle is a no-op.
func (a *Aggregator) StopAdvertising() error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	if !a.IsAdvertising() {
		return nil
	}

	err := a.advertiser.Stop()

	a.mu.Lock()
	a.advertising = false
	a.mu.Unlock()

	if err != nil {
		a.log.Warn("advertiser stop failed", logger.Error(err))
		return err
	}
	a.log.Info("advertising stopped")
	return nil
}

// IsAdvertising reports the advertising flag.
func (a *Aggregator) IsAdvertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.advertising
}

// State returns a snapshot of the radio subsystem.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return State{
		Scanning:    a.scanning,
		Advertising: a.advertising,
		Available:   a.available,
		Devices:     a.snapshotLocked(),
		Err:         a.lastErr,
	}
}

// Stats returns sighting counters.
func (a *Aggregator) Stats() Stats {
	return Stats{
		Accepted:   a.accepted.Load(),
		Rejected:   a.rejected.Load(),
		Evicted:    a.evicted.Load(),
		ScanCycles: a.scanCycles.Load(),
	}
}

// scanLoop runs bounded scan cycles back to back until ctx ends. A cycle
// that fails for any reason other than its own timeout stops scanning with
// a StreamFailure.
func (a *Aggregator) scanLoop(ctx context.Context) {
	defer a.wg.Done()

	for {
		cycleCtx, cancel := context.WithTimeout(ctx, a.cfg.ScanTimeout)
		err := a.scanner.Scan(cycleCtx, func(s Sighting) { a.HandleSighting(s) })
		cycleErr := cycleCtx.Err()
		cancel()

		if ctx.Err() != nil {
			a.mu.Lock()
			if a.releaseScanLocked(ctx) {
				a.log.Info("scanning stopped, context cancelled")
			}
			a.mu.Unlock()
			return
		}
		a.scanCycles.Add(1)

		if err != nil && !(errors.Is(err, context.DeadlineExceeded) && cycleErr != nil) {
			a.failScan(err)
			return
		}
	}
}

// releaseScanLocked marks the session identified by ctx stopped and cancels
// it. It reports false when ctx is not the current session, which happens
// once StopScanning or a newer StartScanning has taken over.
func (a *Aggregator) releaseScanLocked(ctx context.Context) bool {
	if !a.scanning || ctx == nil || a.scanCtx != ctx {
		return false
	}
	a.scanning = false
	a.scanCtx = nil
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	return true
}

func (a *Aggregator) failScan(err error) {
	a.mu.Lock()
	a.scanning = false
	a.lastErr = errors.StreamError(err, "radio")
	cancel := a.cancel
	a.cancel = nil
	a.scanCtx = nil
	a.mu.Unlock()

	// stops the sweeper; StopScanning sees a nil cancel and does not wait
	if cancel != nil {
		cancel()
	}
	a.log.Error("scan failed, scanning stopped", logger.Error(err))
}

func (a *Aggregator) sweepLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := a.clock.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			a.Sweep()
		}
	}
}
