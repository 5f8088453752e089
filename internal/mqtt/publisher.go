package mqtt

import (
	"context"
	"encoding/json"
	"strings"

	"golang.org/x/time/rate"

	"github.com/tphakala/dualverify/internal/connection"
	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/fusion"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/observability/metrics"
	"github.com/tphakala/dualverify/internal/timeutil"
)

const (
	connectionSuffix   = "/connection"
	verificationSuffix = "/verification"
)

// PublisherConfig controls topics and rate limiting.
type PublisherConfig struct {
	BaseTopic string
	Source    string     // node name stamped into every payload
	RateLimit rate.Limit // messages per second
	Burst     int
}

// Publisher turns engine output into MQTT messages. Connection events wait
// for rate limit tokens; verification messages are dropped when the limit is
// exhausted.
type Publisher struct {
	client  Client
	cfg     PublisherConfig
	limiter *rate.Limiter
	clock   timeutil.Clock
	metrics *metrics.MQTTMetrics
	log     logger.Logger
}

// NewPublisher wraps client. metrics may be nil.
func NewPublisher(client Client, cfg PublisherConfig, clock timeutil.Clock, m *metrics.MQTTMetrics, log logger.Logger) *Publisher {
	cfg.BaseTopic = strings.TrimSuffix(cfg.BaseTopic, "/")
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Inf
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if log == nil {
		log = GetLogger()
	}

	return &Publisher{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		clock:   timeutil.OrReal(clock),
		metrics: m,
		log:     log.Module("publisher"),
	}
}

// ConnectionTopic returns the topic for connection events.
func (p *Publisher) ConnectionTopic() string { return p.cfg.BaseTopic + connectionSuffix }

// VerificationTopic returns the topic for verification messages.
func (p *Publisher) VerificationTopic() string { return p.cfg.BaseTopic + verificationSuffix }

// PublishConnection publishes ev, waiting for the rate limiter if needed.
func (p *Publisher) PublishConnection(ctx context.Context, ev connection.Event) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.publish(ctx, p.ConnectionTopic(), newConnectionMessage(ev, p.cfg.Source))
}

// PublishVerification publishes a, or drops it when over the rate limit.
func (p *Publisher) PublishVerification(ctx context.Context, a fusion.Assessment) error {
	if !p.limiter.Allow() {
		if p.metrics != nil {
			p.metrics.IncrementRateLimited()
		}
		p.log.Debug("verification message rate limited", logger.String("device_id", a.DeviceID))
		return nil
	}
	return p.publish(ctx, p.VerificationTopic(), newVerificationMessage(a, p.clock.Now(), p.cfg.Source))
}

func (p *Publisher) publish(ctx context.Context, topic string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.New(err).Component("mqtt").Category(errors.CategoryMQTT).Context("topic", topic).Build()
	}
	return p.client.Publish(ctx, topic, payload)
}
