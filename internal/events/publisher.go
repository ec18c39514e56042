package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"lab-report-server/internal/models"
)

// SampleCreatedChannel is the channel other services subscribe to for
// new sample announcements.
const SampleCreatedChannel = "lab.sample.created"

// Publisher announces workflow events to the message bus. Publication
// is fire-and-forget: a failed publish is logged by the caller and
// never rolls back the write that triggered it.
type Publisher interface {
	PublishSampleCreated(ctx context.Context, sample *models.LabSample) error
}

// RedisPublisher publishes events over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisPublisher connects to Redis using a URL of the form
// redis://host:port/db.
func NewRedisPublisher(url string, log zerolog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisPublisher{client: redis.NewClient(opts), log: log}, nil
}

// PublishSampleCreated announces a newly created sample.
func (p *RedisPublisher) PublishSampleCreated(ctx context.Context, sample *models.LabSample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, SampleCreatedChannel, payload).Err(); err != nil {
		return err
	}
	p.log.Debug().Str("labSampleId", sample.ID).Str("channel", SampleCreatedChannel).Msg("published sample created event")
	return nil
}

// Close releases the underlying Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// NopPublisher discards events. Used when no message bus is configured
// and in tests.
type NopPublisher struct{}

// PublishSampleCreated implements Publisher.
func (NopPublisher) PublishSampleCreated(context.Context, *models.LabSample) error { return nil }
