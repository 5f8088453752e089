package analysis

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tphakala/dualverify/internal/conf"
	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/mqtt"
	"github.com/tphakala/dualverify/internal/observability"
	"github.com/tphakala/dualverify/internal/observability/metrics"
	"github.com/tphakala/dualverify/internal/proximity"
	"github.com/tphakala/dualverify/internal/timeutil"
	"github.com/tphakala/dualverify/internal/tone"
)

// shutdownTimeout bounds how long Close may take once the loop has exited.
const shutdownTimeout = 5 * time.Second

// NotifyContext returns a context cancelled on SIGINT or SIGTERM.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// RealtimeProximity runs the full engine until a termination signal is
// received.
func RealtimeProximity(settings *conf.Settings) error {
	ctx, stop := NotifyContext(context.Background())
	defer stop()
	return RunEngine(ctx, settings)
}

// RunEngine builds the engine on real hardware, starts every subsystem the
// settings enable and blocks until ctx is cancelled.
func RunEngine(ctx context.Context, settings *conf.Settings) error {
	log := GetLogger()
	clock := timeutil.RealClock{}

	components, err := NewComponents(settings, clock)
	if err != nil {
		return err
	}

	var (
		opts       []proximity.Option
		endpoint   *observability.Endpoint
		mqttClient mqtt.Client
		mqttStats  *metrics.MQTTMetrics
	)

	if settings.Telemetry.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return err
		}
		if err := m.Proximity.RegisterSources(metrics.Sources{
			Radio:       components.Radio.Stats,
			Connections: components.Connections.Stats,
			Receiver:    func() tone.WorkerStats { return components.Receiver.State().Worker },
		}); err != nil {
			return err
		}
		if endpoint, err = observability.NewEndpoint(settings, m); err != nil {
			return err
		}
		opts = append(opts, proximity.WithRecorder(m.Proximity))
		mqttStats = m.MQTT
	}

	if settings.MQTT.Enabled {
		mqttClient = mqtt.NewClient(mqtt.ConfigFromSettings(settings), mqttStats, nil)
		if err := mqttClient.Connect(ctx); err != nil {
			// The engine is still useful without a broker.
			log.Error("mqtt connect failed, publishing disabled", logger.Error(err))
			mqttClient = nil
		} else {
			opts = append(opts, proximity.WithPublisher(mqtt.NewPublisher(mqttClient, mqtt.PublisherConfig{
				BaseTopic: settings.MQTT.Topic,
				Source:    settings.Main.Name,
				RateLimit: rate.Limit(settings.MQTT.RateLimit),
				Burst:     max(1, int(settings.MQTT.RateLimit)),
			}, clock, mqttStats, nil)))
		}
	}

	engine, err := proximity.NewEngine(EngineConfig(settings), components, clock, nil, opts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	if endpoint != nil {
		g.Go(func() error { return endpoint.Run(gctx) })
	}
	g.Go(func() error {
		startSubsystems(gctx, engine, settings, log)
		return nil
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	closeErr := closeWithTimeout(engine, shutdownTimeout)
	if mqttClient != nil {
		mqttClient.Disconnect()
	}

	log.Info("proximity engine stopped")
	return errors.Join(runErr, closeErr)
}

// startSubsystems brings up each subsystem independently. A missing
// microphone or radio leaves the rest running; the failure is visible in
// the engine state.
func startSubsystems(ctx context.Context, engine *proximity.Engine, settings *conf.Settings, log logger.Logger) {
	if !engine.RefreshAvailability(ctx) {
		log.Warn("bluetooth radio unavailable, running audio only")
	}

	if err := engine.StartListening(ctx); err != nil {
		log.Error("failed to start listening", logger.Error(err))
	}
	if err := engine.StartTransmitting(ctx); err != nil {
		log.Error("failed to start chirp transmitter", logger.Error(err))
	}
	if err := engine.StartScanning(ctx); err != nil {
		log.Error("failed to start scanning", logger.Error(err))
	}
	if settings.Radio.Advertise {
		if err := engine.StartAdvertising(ctx); err != nil {
			log.Error("failed to start advertising", logger.Error(err))
		}
	}

	log.Info("proximity engine started",
		logger.String("name", settings.Main.Name),
		logger.Bool("auto_connect", settings.Fusion.AutoConnect),
		logger.Bool("telemetry", settings.Telemetry.Enabled),
		logger.Bool("mqtt", settings.MQTT.Enabled))
}

func closeWithTimeout(engine *proximity.Engine, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- engine.Close() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.Newf("engine did not shut down within %s", timeout).
			Component("analysis").
			Category(errors.CategoryTimeout).
			Build()
	}
}
