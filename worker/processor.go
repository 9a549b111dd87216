package worker

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/DeSecurity/focused-life-hq/domain"
)

type queueSource interface {
	Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error)
	DeleteMessage(ctx context.Context, id, receipt string) error
}

type commandApplier interface {
	Apply(ctx context.Context, env domain.CommandEnvelope) error
}

type cacheRefresher interface {
	RefreshTasks(ctx context.Context, userID string)
	RefreshItems(ctx context.Context, userID string, kind domain.ItemKind)
	RefreshSettings(ctx context.Context, userID string)
}

// Processor drains the command queue and applies each command to the read
// model, then refreshes caches and publishes an update event for the SSE
// streams.
type Processor struct {
	queue        queueSource
	applier      commandApplier
	cache        cacheRefresher
	redis        *redis.Client
	channel      string
	pollInterval time.Duration
	logger       *log.Logger
}

func NewProcessor(queue queueSource, applier commandApplier, cache cacheRefresher, rc *redis.Client, channel string, pollInterval time.Duration, logger *log.Logger) *Processor {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Processor{
		queue:        queue,
		applier:      applier,
		cache:        cache,
		redis:        rc,
		channel:      channel,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run processes messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.WithError(err).Error("dequeue failed")
			p.sleep(ctx)
			continue
		}
		if msg == nil || msg.MessageText == nil {
			p.sleep(ctx)
			continue
		}

		if err := p.Process(ctx, *msg.MessageText); err != nil {
			p.logger.WithError(err).Error("command processing failed")
		}
		// Failed commands are dropped rather than redelivered; replaying a
		// command that failed validation or staleness checks cannot succeed.
		if msg.MessageID != nil && msg.PopReceipt != nil {
			if err := p.queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
				p.logger.WithError(err).Error("delete message failed")
			}
		}
	}
}

// Process applies a single raw queue message.
func (p *Processor) Process(ctx context.Context, payload string) error {
	var env domain.CommandEnvelope
	if err := sonic.UnmarshalString(payload, &env); err != nil {
		return err
	}

	if err := p.applier.Apply(ctx, env); err != nil {
		return err
	}

	p.refresh(ctx, env)
	p.publish(ctx, env)
	return nil
}

func (p *Processor) refresh(ctx context.Context, env domain.CommandEnvelope) {
	if p.cache == nil {
		return
	}
	switch env.Command.EntityType {
	case domain.EntityTask:
		p.cache.RefreshTasks(ctx, env.UserID)
	case domain.EntityItem:
		for _, kind := range p.touchedKinds(env.Command) {
			p.cache.RefreshItems(ctx, env.UserID, kind)
		}
	case domain.EntitySettings:
		p.cache.RefreshSettings(ctx, env.UserID)
	}
}

// touchedKinds extracts the item kind from the command payload. Commands that
// do not carry one (deletes) refresh all kinds.
func (p *Processor) touchedKinds(cmd domain.Command) []domain.ItemKind {
	var data struct {
		Kind string `json:"kind"`
	}
	if err := sonic.Unmarshal(cmd.Data, &data); err == nil {
		if kind := domain.ItemKind(data.Kind); kind.Valid() {
			return []domain.ItemKind{kind}
		}
	}
	return []domain.ItemKind{domain.KindProject, domain.KindIdea, domain.KindArea, domain.KindTag}
}

func (p *Processor) publish(ctx context.Context, env domain.CommandEnvelope) {
	if p.redis == nil || p.channel == "" {
		return
	}
	ev := domain.Event{
		ID:         env.Command.ID,
		EntityID:   env.Command.EntityID,
		EntityType: env.Command.EntityType,
		Type:       env.Command.Type,
		Timestamp:  env.Command.Timestamp,
		UserID:     env.UserID,
	}
	data, err := sonic.ConfigStd.Marshal(ev)
	if err != nil {
		p.logger.WithError(err).Error("marshal update event")
		return
	}
	if err := p.redis.Publish(ctx, p.channel, string(data)).Err(); err != nil {
		p.logger.WithError(err).WithField("user", env.UserID).Error("publish update event")
	}
}

func (p *Processor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}
