// Package consumer is the NATS intake for telemetry data packets. Each
// packet is evaluated against the enabled detectors and committed; state
// changes are published to the results subject for downstream consumers.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kestrelwatch/kestrel/internal/config"
	"github.com/kestrelwatch/kestrel/internal/engine"
	"github.com/kestrelwatch/kestrel/internal/metrics"
	"github.com/kestrelwatch/kestrel/internal/models"
)

const packetTimeout = 30 * time.Second

// DetectorLister loads the detectors to evaluate against each packet.
type DetectorLister interface {
	ListEnabledDetectors(ctx context.Context) ([]*models.Detector, error)
}

// ResultMessage is the JSON payload published per detector with state
// changes.
type ResultMessage struct {
	PacketID   string                    `json:"packet_id"`
	DetectorID string                    `json:"detector_id"`
	Results    []models.EvaluationResult `json:"results"`
}

// Consumer subscribes to the packet subject and drives the batch processor.
type Consumer struct {
	conn      *nats.Conn
	cfg       config.NATSConfig
	detectors DetectorLister
	processor *engine.Processor[TelemetryPayload]
	sub       *nats.Subscription
	logger    *slog.Logger
}

// New creates a consumer; Start begins consuming.
func New(conn *nats.Conn, cfg config.NATSConfig, detectors DetectorLister, processor *engine.Processor[TelemetryPayload]) *Consumer {
	return &Consumer{
		conn:      conn,
		cfg:       cfg,
		detectors: detectors,
		processor: processor,
		logger:    slog.Default().With(slog.String("component", "packet-consumer")),
	}
}

// Start subscribes to the packet subject with a queue group so multiple
// instances share the stream.
func (c *Consumer) Start() error {
	sub, err := c.conn.QueueSubscribe(c.cfg.PacketSubject, c.cfg.QueueGroup, c.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.cfg.PacketSubject, err)
	}
	c.sub = sub

	c.logger.Info("packet consumer started",
		slog.String("subject", c.cfg.PacketSubject),
		slog.String("queue_group", c.cfg.QueueGroup))
	return nil
}

// Stop unsubscribes from the packet subject.
func (c *Consumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	if err := c.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	c.sub = nil
	return nil
}

func (c *Consumer) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), packetTimeout)
	defer cancel()

	var payload TelemetryPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		metrics.PacketsTotal.WithLabelValues("decode_error").Inc()
		c.logger.Error("failed to decode telemetry packet", slog.String("error", err.Error()))
		return
	}

	packet := models.DataPacket[TelemetryPayload]{
		PacketID: uuid.NewString(),
		Payload:  payload,
	}

	results, err := c.ProcessPacket(ctx, packet)
	if err != nil {
		metrics.PacketsTotal.WithLabelValues("error").Inc()
		c.logger.Error("failed to process telemetry packet",
			slog.String("packet_id", packet.PacketID),
			slog.String("source_id", payload.SourceID),
			slog.String("error", err.Error()))
		return
	}

	for _, result := range results {
		c.publishResult(packet.PacketID, result)
	}
	metrics.PacketsTotal.WithLabelValues("ok").Inc()
}

// ProcessPacket evaluates one packet against the enabled detectors and
// commits all staged state, returning the per-detector state changes.
func (c *Consumer) ProcessPacket(ctx context.Context, packet models.DataPacket[TelemetryPayload]) ([]engine.DetectorResult, error) {
	detectors, err := c.detectors.ListEnabledDetectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list detectors: %w", err)
	}

	batch, err := c.processor.Process(ctx, packet, detectors)
	if err != nil {
		return nil, err
	}

	if err := batch.Commit(ctx); err != nil {
		return nil, err
	}

	return batch.Results(), nil
}

func (c *Consumer) publishResult(packetID string, result engine.DetectorResult) {
	msg := ResultMessage{
		PacketID:   packetID,
		DetectorID: result.Detector.ID,
		Results:    result.Results,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal result message", slog.String("error", err.Error()))
		return
	}

	if err := c.conn.Publish(c.cfg.ResultsSubject, data); err != nil {
		c.logger.Error("failed to publish result",
			slog.String("detector_id", result.Detector.ID),
			slog.String("error", err.Error()))
	}
}
