// Package bridge wires the serial reader, the LoRa cache subscriber, the
// network materialiser, the outbound publisher, and the scheduler together
// into the running process, mirroring the orchestration order of the
// original Python entry point's main().
package bridge

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/dynamicdevices/uwb-bridge/internal/diagnostics"
	"github.com/dynamicdevices/uwb-bridge/internal/framer"
	"github.com/dynamicdevices/uwb-bridge/internal/loracache"
	"github.com/dynamicdevices/uwb-bridge/internal/metrics"
	"github.com/dynamicdevices/uwb-bridge/internal/mqttpub"
	"github.com/dynamicdevices/uwb-bridge/internal/network"
	"github.com/dynamicdevices/uwb-bridge/internal/resilience"
	"github.com/dynamicdevices/uwb-bridge/internal/scheduler"
	"github.com/dynamicdevices/uwb-bridge/internal/serialport"
	"github.com/dynamicdevices/uwb-bridge/internal/validate"
	"github.com/dynamicdevices/uwb-bridge/pkg/log"
)

// Config bundles everything the orchestrator needs that a *config.Config
// can't hand over directly: the loaded anchor/dev-eui maps and the
// sub-component configs derived from it. Kept separate from internal/config
// so this package never has to import the CLI-flag-laden Config struct's
// zero-value concerns.
type Config struct {
	SerialPath       string
	SerialDisabled   bool
	LoraSubscriber   loracache.SubscriberConfig
	Publisher        mqttpub.Config
	DiagnosticsAddr  string
	Anchors          network.AnchorMap
	DevEuiMap        loracache.DevEuiToNodeId
	CacheTTL         loracache.TTLConfig
	NetworkConfig    network.Config
	ValidationBounds validate.Bounds
	BackoffConfig    resilience.BackoffConfig
	HealthConfig     resilience.HealthConfig
	ErrorThresholds  resilience.Thresholds
}

// Bridge owns every long-lived component and the goroutines that drive
// them. Call Run to start; cancel the context to shut down gracefully.
type Bridge struct {
	cfg Config

	health     *resilience.Health
	classifier *resilience.Classifier
	backoff    *resilience.ResetScheduler
	validator  *validate.Validator
	cache      *loracache.Cache
	loraSub    *loracache.Subscriber
	publisher  *mqttpub.Publisher
	metrics    *metrics.Registry
	diagServer *diagnostics.Server
	sched      *scheduler.Scheduler
	port       *serialport.Port
}

// New builds a Bridge. Distance validation uses cfg.NetworkConfig.Validator,
// so distance validation and GPS-freshness validation share one Validator
// and one Stats accumulator; when it is nil, New builds one from
// cfg.ValidationBounds and installs it there.
func New(cfg Config) *Bridge {
	now := time.Now()
	validator := cfg.NetworkConfig.Validator
	if validator == nil {
		validator = validate.New(cfg.ValidationBounds)
		cfg.NetworkConfig.Validator = validator
	}
	b := &Bridge{
		cfg:        cfg,
		health:     resilience.NewHealth(cfg.HealthConfig, now),
		classifier: resilience.NewClassifier(cfg.ErrorThresholds),
		backoff:    resilience.NewResetScheduler(cfg.BackoffConfig),
		validator:  validator,
		metrics:    metrics.New(),
	}
	mapping := cfg.DevEuiMap
	if mapping == nil {
		mapping = loracache.DevEuiToNodeId{}
	}
	b.cache = loracache.New(mapping, cfg.CacheTTL)
	b.loraSub = loracache.NewSubscriber(cfg.LoraSubscriber, b.cache, b.health)
	b.publisher = mqttpub.New(cfg.Publisher, b.health)
	b.diagServer = diagnostics.New(cfg.DiagnosticsAddr, b.health, b.metrics, b.cache)
	return b
}

// Run starts every subsystem and blocks until ctx is cancelled. It returns
// the first fatal startup error, if any (e.g. serial port open failure);
// once running, subsystem errors are logged and recorded, not fatal.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.cfg.SerialDisabled {
		port, err := serialport.Open(b.cfg.SerialPath)
		if err != nil {
			return err
		}
		b.port = port
	}

	if err := b.loraSub.Start(); err != nil {
		log.Warnf("bridge: LoRa subscriber failed to start: %v", err)
	}
	if err := b.publisher.Start(); err != nil {
		log.Warnf("bridge: outbound publisher failed to start: %v", err)
	}

	sched, err := scheduler.New()
	if err != nil {
		return err
	}
	b.sched = sched
	if err := b.sched.RegisterCacheSweep(b.cfg.CacheTTL.CleanupInterval, b.sweepCache); err != nil {
		return err
	}
	if err := b.sched.RegisterHealthReport(b.cfg.HealthConfig.ReportInterval, b.reportHealth); err != nil {
		return err
	}
	b.sched.Start()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.diagServer.ListenAndServe(); err != nil {
			log.Infof("bridge: diagnostics server stopped: %v", err)
		}
	}()

	if !b.cfg.SerialDisabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.runSerialLoop(ctx)
		}()
	}

	<-ctx.Done()
	b.shutdown()
	wg.Wait()
	return nil
}

func (b *Bridge) shutdown() {
	log.Info("bridge: shutting down")
	if err := b.sched.Shutdown(); err != nil {
		log.Warnf("bridge: scheduler shutdown: %v", err)
	}
	b.diagServer.Close()
	b.publisher.Stop()
	b.loraSub.Stop()
	if b.port != nil {
		b.port.Close()
	}
}

func (b *Bridge) sweepCache() {
	devEuiRemoved, nodeIdRemoved := b.cache.Sweep(time.Now())
	if devEuiRemoved > 0 || nodeIdRemoved > 0 {
		log.Debugf("bridge: cache sweep removed %d DevEui / %d NodeId entries", devEuiRemoved, nodeIdRemoved)
	}
}

func (b *Bridge) reportHealth() {
	doc := b.health.Snapshot(time.Now())
	b.metrics.Observe(doc)
	stats := b.cache.Stats()
	b.metrics.ObserveCache(stats.DevEuiCount, stats.NodeIdCount)
	b.publisher.PublishHealth(doc)

	// The local health file is written on every tick for container probes.
	const healthFilePath = "/tmp/uwb-health-status.json"
	raw, err := json.Marshal(doc)
	if err != nil {
		log.Warnf("bridge: failed to marshal health document: %v", err)
		return
	}
	if err := os.WriteFile(healthFilePath, raw, 0o644); err != nil {
		log.Warnf("bridge: failed to write %s: %v", healthFilePath, err)
	}
}

// runSerialLoop owns the framer state machine: resynchronisation via the
// StreamReader, packet dispatch via the Parser, edge materialisation, and
// the threshold-triggered device reset (per resilience.Classifier) gated by
// the backoff scheduler.
func (b *Bridge) runSerialLoop(ctx context.Context) {
	reader := framer.NewStreamReader()
	parser := framer.NewParser()
	buf := make([]byte, 4096)
	var lastAssignment *framer.Assignment

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := b.port.Read(buf)
		if err != nil {
			b.health.RecordConnectionError(time.Now())
			if count, reached := b.classifier.Record(resilience.ErrorSerial); reached {
				log.Warnf("bridge: serial read errors reached threshold (%d), resetting device", count)
				b.resetDevice(parser)
			}
			continue
		}
		if n == 0 {
			continue
		}

		for _, payload := range reader.Feed(buf[:n]) {
			outcome, err := parser.ParsePayload(payload)
			if err != nil {
				if err == framer.ErrDistanceBeforeAssignment {
					log.Debugf("bridge: distance packet before assignment, skipped")
					continue
				}
				b.health.RecordParsingError(time.Now())
				if count, reached := b.classifier.Record(resilience.ErrorParsing); reached {
					log.Warnf("bridge: parsing errors reached threshold (%d), resetting device: %v", count, err)
					b.resetDevice(parser)
				}
				continue
			}
			b.classifier.Reset(resilience.ErrorParsing)

			if outcome.AssignmentChanged {
				current := parser.CurrentAssignment()
				if assignmentChanged(lastAssignment, current) {
					log.Debugf("bridge: new assignment: group1=%d group2=%d group3=%d", len(current.G1), len(current.G2), len(current.G3))
					lastAssignment = current
				}
			}

			if len(outcome.Edges) > 0 {
				b.health.RecordSuccessfulPacket(time.Now())
				b.publishNetwork(outcome.Edges)
			}
		}
	}
}

func (b *Bridge) resetDevice(parser *framer.Parser) {
	now := time.Now()
	if !b.backoff.Allow(now) {
		log.Debugf("bridge: device reset suppressed by backoff")
		return
	}
	if err := b.port.Reset(); err != nil {
		log.Warnf("bridge: device reset failed: %v", err)
		return
	}
	b.backoff.RecordReset(now)
	b.health.RecordDeviceReset(now)
	parser.Reset()
	b.classifier.Reset(resilience.ErrorParsing)
}

func (b *Bridge) publishNetwork(edges []framer.Edge) {
	now := time.Now()
	valid, failures := b.validator.ValidateEdgeList(edges, now)
	if len(failures) > 0 {
		b.publisher.PublishValidationFailures(failures)
	}

	net := network.Build(valid, b.cfg.Anchors, b.cache.Snapshot(), now, b.cfg.NetworkConfig)
	b.publisher.Publish(net)
}

func assignmentChanged(prev, current *framer.Assignment) bool {
	if prev == nil {
		return true
	}
	return !equalIds(prev.G1, current.G1) || !equalIds(prev.G2, current.G2) || !equalIds(prev.G3, current.G3)
}

func equalIds(a, b []framer.NodeId) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
