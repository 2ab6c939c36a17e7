// Package mqttclient connects to an MQTT broker to receive recording jobs and
// publish pipeline events.
package mqttclient

import (
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/interview-kb/internal/api"
	"github.com/snarg/interview-kb/internal/pipeline"
)

// JobHandler accepts a decoded recording job. It returns false when the job
// could not be queued.
type JobHandler func(rec pipeline.Recording) bool

type Client struct {
	conn       mqtt.Client
	jobTopics  []string
	eventTopic string
	connected  atomic.Bool
	log        zerolog.Logger
	handler    atomic.Pointer[JobHandler]

	received atomic.Int64
	rejected atomic.Int64
}

type Options struct {
	BrokerURL  string
	ClientID   string
	JobTopic   string // comma-separated filters; empty disables job intake
	EventTopic string // prefix for published events; empty disables publishing
	Username   string
	Password   string
	Log        zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		jobTopics:  parseTopics(opts.JobTopic),
		eventTopic: strings.TrimRight(strings.TrimSpace(opts.EventTopic), "/"),
		log:        opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

// SetJobHandler installs the callback for recording jobs, typically the
// worker pool's Enqueue.
func (c *Client) SetJobHandler(h JobHandler) {
	if h == nil {
		c.handler.Store(nil)
		return
	}
	c.handler.Store(&h)
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	if len(c.jobTopics) == 0 {
		c.log.Info().Msg("mqtt connected, job intake disabled")
		return
	}
	c.log.Info().Strs("topics", c.jobTopics).Msg("mqtt connected, subscribing")

	filters := make(map[string]byte, len(c.jobTopics))
	for _, t := range c.jobTopics {
		filters[t] = 1
	}
	token := client.SubscribeMultiple(filters, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c.received.Add(1)
	rec, err := decodeJob(msg.Payload())
	if err != nil {
		c.rejected.Add(1)
		c.log.Warn().
			Err(err).
			Str("topic", msg.Topic()).
			Int("payload_size", len(msg.Payload())).
			Msg("invalid recording job")
		return
	}
	h := c.handler.Load()
	if h == nil {
		c.log.Debug().Str("topic", msg.Topic()).Str("audio", rec.Audio).Msg("recording job ignored, no handler")
		return
	}
	if !(*h)(rec) {
		c.rejected.Add(1)
		c.log.Warn().Str("audio", rec.Audio).Msg("recording queue full, job dropped")
		return
	}
	c.log.Debug().Str("topic", msg.Topic()).Str("audio", rec.Audio).Msg("recording job queued")
}

// Publish sends an event to <EventTopic>/<type>/<subtype>. It does not wait
// for the broker and is a no-op while disconnected or when no event topic is
// configured.
func (c *Client) Publish(ev api.SSEEvent) {
	if c.eventTopic == "" || !c.connected.Load() {
		return
	}
	body, err := encodeEvent(ev)
	if err != nil {
		c.log.Warn().Err(err).Str("event_id", ev.ID).Msg("failed to encode event")
		return
	}
	c.conn.Publish(eventTopic(c.eventTopic, ev), 0, false, body)
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().
		Int64("jobs_received", c.received.Load()).
		Int64("jobs_rejected", c.rejected.Load()).
		Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

// decodeJob accepts {"audio": "...", "source_id": "..."} or a bare JSON
// string naming the audio.
func decodeJob(payload []byte) (pipeline.Recording, error) {
	var rec pipeline.Recording
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, `"`) {
		if err := json.Unmarshal([]byte(trimmed), &rec.Audio); err != nil {
			return rec, err
		}
	} else if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return rec, err
	}
	rec.Audio = strings.TrimSpace(rec.Audio)
	rec.SourceID = strings.TrimSpace(rec.SourceID)
	if rec.Audio == "" {
		return rec, errors.New("audio is required")
	}
	return rec, nil
}

type eventMessage struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"event_type"`
	SubType   string          `json:"sub_type,omitempty"`
	Timestamp string          `json:"timestamp"`
	SourceID  string          `json:"source_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func encodeEvent(ev api.SSEEvent) ([]byte, error) {
	msg := eventMessage{
		ID:        ev.ID,
		Type:      ev.Type,
		SubType:   ev.SubType,
		Timestamp: ev.Timestamp,
		SourceID:  ev.SourceID,
	}
	if len(ev.Data) > 0 {
		msg.Data = json.RawMessage(ev.Data)
	}
	return json.Marshal(msg)
}

func eventTopic(prefix string, ev api.SSEEvent) string {
	topic := prefix + "/" + ev.Type
	if ev.SubType != "" {
		topic += "/" + ev.SubType
	}
	return topic
}

func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}
