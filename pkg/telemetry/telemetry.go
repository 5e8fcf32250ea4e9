// Package telemetry publishes device state into Redis so other host
// services can observe the board controller without owning the serial line:
// status, RTC, accelerometer events, and session outcomes land in hashes
// with a matching Pub/Sub notification.
package telemetry

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys the publisher writes under.
const (
	KeyBctrl    = "bctrl"
	KeyBctrlLog = "bctrl:log"
)

// Publisher is a thin Redis client for board-controller telemetry.
type Publisher struct {
	client *redis.Client
	ctx    context.Context
}

// New connects to Redis at addr.
func New(addr string, password string, db int) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &Publisher{client: client, ctx: ctx}, nil
}

// writeAndPublish stores field=value in the bctrl hash and notifies
// subscribers.
func (p *Publisher) writeAndPublish(field, value string) error {
	pipe := p.client.Pipeline()
	pipe.HSet(p.ctx, KeyBctrl, field, value)
	pipe.Publish(p.ctx, KeyBctrl, fmt.Sprintf("%s:%s", field, value))
	_, err := pipe.Exec(p.ctx)
	return err
}

// PublishStatus stores the raw status indication bytes.
func (p *Publisher) PublishStatus(raw []byte) error {
	return p.writeAndPublish("status", hex.EncodeToString(raw))
}

// PublishRTC stores the device clock reading.
func (p *Publisher) PublishRTC(t time.Time, epoch byte) error {
	if err := p.writeAndPublish("rtc", t.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return p.client.HSet(p.ctx, KeyBctrl, "rtc-epoch", int(epoch)).Err()
}

// PublishAccelEvent stores the last accelerometer event.
func (p *Publisher) PublishAccelEvent(eventType byte, x, y, z int16) error {
	return p.writeAndPublish("accel", fmt.Sprintf("%d:%d:%d:%d", eventType, x, y, z))
}

// PublishSession stores the outcome of the most recent session.
func (p *Publisher) PublishSession(id uint64, success bool) error {
	return p.writeAndPublish("session", fmt.Sprintf("%d:%t", id, success))
}

// PushLogRecord appends a retrieved log record to the bctrl:log list.
func (p *Publisher) PushLogRecord(pos uint32, data []byte) error {
	return p.client.LPush(p.ctx, KeyBctrlLog, fmt.Sprintf("%d:%s", pos, hex.EncodeToString(data))).Err()
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
