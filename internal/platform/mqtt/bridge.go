// Package mqtt bridges readings published by the central OCR processor over
// MQTT into the vitals ingestion pipeline.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/nicu/nicu/internal/domain/vitals"
	"github.com/nicu/nicu/internal/platform/metrics"
)

// Transport is recorded on submissions that arrive over MQTT.
const Transport = "mqtt"

const (
	subscribeQoS      = 1
	disconnectQuiesce = 250 // ms
	connectTimeout    = 10 * time.Second
)

// Ingester runs one submission through the pipeline.
type Ingester interface {
	Ingest(ctx context.Context, sub *vitals.Submission) *vitals.Result
}

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Bridge subscribes to the edge vitals topic and ingests every message.
type Bridge struct {
	cfg      Config
	ingester Ingester
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	client paho.Client
	ctx    context.Context
}

func NewBridge(cfg Config, ingester Ingester, logger zerolog.Logger, m *metrics.Metrics) *Bridge {
	return &Bridge{
		cfg:      cfg,
		ingester: ingester,
		logger:   logger.With().Str("component", "mqtt").Str("topic", cfg.Topic).Logger(),
		metrics:  m,
		ctx:      context.Background(),
	}
}

// Start connects to the broker and subscribes. Messages are ingested under
// ctx until Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx = ctx

	opts := paho.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
	}
	if b.cfg.Password != "" {
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.logger.Warn().Err(err).Msg("MQTT connection lost")
	})
	// Resubscribe after every reconnect; the session is clean.
	opts.SetOnConnectHandler(func(c paho.Client) {
		if token := c.Subscribe(b.cfg.Topic, subscribeQoS, b.handle); token.Wait() && token.Error() != nil {
			b.logger.Error().Err(token.Error()).Msg("MQTT subscribe failed")
			return
		}
		b.logger.Info().Str("broker", b.cfg.Broker).Msg("MQTT bridge subscribed")
	})

	b.client = paho.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to MQTT broker %s: %w", b.cfg.Broker, token.Error())
	}
	return nil
}

func (b *Bridge) Stop() {
	if b.client == nil {
		return
	}
	if token := b.client.Unsubscribe(b.cfg.Topic); token.Wait() && token.Error() != nil {
		b.logger.Warn().Err(token.Error()).Msg("MQTT unsubscribe failed")
	}
	b.client.Disconnect(disconnectQuiesce)
	b.logger.Info().Msg("MQTT bridge stopped")
}

func (b *Bridge) handle(_ paho.Client, msg paho.Message) {
	b.process(b.ctx, msg.Topic(), msg.Payload())
}

// process ingests one payload. It returns nil when the payload could not be
// decoded and was dropped.
func (b *Bridge) process(ctx context.Context, topic string, payload []byte) *vitals.Result {
	var p edgePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		b.metrics.MQTTMessage("malformed")
		b.logger.Warn().Err(err).Int("payload_size", len(payload)).Msg("dropping malformed MQTT payload")
		return nil
	}

	sub := p.submission()
	if sub.PatientID == nil {
		sub.PatientID = patientFromTopic(topic)
	}

	res := b.ingester.Ingest(ctx, sub)
	b.metrics.MQTTMessage(string(res.Outcome))

	evt := b.logger.Info()
	if res.Outcome != vitals.OutcomeAccepted {
		evt = b.logger.Warn().Err(res.Err)
	}
	evt.Str("camera_id", sub.CameraID).
		Str("outcome", string(res.Outcome)).
		Dur("duration", res.Duration).
		Msg("MQTT reading processed")
	return res
}

// edgePayload is the JSON published by the central OCR processor.
type edgePayload struct {
	PatientID       *int64           `json:"patient_id"`
	CameraID        string           `json:"camera_id"`
	Vitals          *vitals.Readings `json:"vitals"`
	Confidence      *float64         `json:"confidence"`
	InferenceTimeMs *int             `json:"inference_time_ms"`
	Timestamp       string           `json:"timestamp"`
	MonitorType     string           `json:"monitor_type"`
}

func (p edgePayload) submission() *vitals.Submission {
	sub := &vitals.Submission{
		PatientID:       p.PatientID,
		CameraID:        p.CameraID,
		Source:          vitals.SourceCamera,
		Vitals:          p.Vitals,
		Confidence:      p.Confidence,
		InferenceTimeMs: p.InferenceTimeMs,
		Transport:       Transport,
	}
	if p.Timestamp != "" {
		ts := p.Timestamp
		sub.Timestamp = &ts
	}
	if p.MonitorType != "" {
		mt := p.MonitorType
		sub.MonitorType = &mt
	}
	return sub
}

// patientFromTopic reads the id from "nicu/<unit>/patient/<id>/vitals/camera".
func patientFromTopic(topic string) *int64 {
	parts := strings.Split(topic, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] != "patient" {
			continue
		}
		id, err := strconv.ParseInt(parts[i+1], 10, 64)
		if err != nil {
			return nil
		}
		return &id
	}
	return nil
}
