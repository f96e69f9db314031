package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ShipmentJobsExchange = "distrib.shipment_jobs"
	ShipmentJobsQueue    = "distrib.shipment_jobs.book"
	ShipmentJobsDLQ      = "distrib.shipment_jobs.dlq"
	ShipmentJobsRK       = "book"
	ShipmentJobsDeadRK   = "dead"
)

// ShipmentJob asks the worker to book a courier for one purchase.
type ShipmentJob struct {
	PurchaseID uuid.UUID `json:"purchaseId"`
	SellerID   uuid.UUID `json:"sellerId"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"createdAt"`
}

func EnsureShipmentJobsTopology(_ context.Context, qc *Client) error {
	if qc == nil {
		return nil
	}

	if err := qc.EnsureExchangeKind(ShipmentJobsExchange, "direct"); err != nil {
		return err
	}

	if _, err := qc.EnsureQueue(ShipmentJobsDLQ); err != nil {
		return err
	}
	if err := qc.BindQueue(ShipmentJobsDLQ, ShipmentJobsExchange, ShipmentJobsDeadRK); err != nil {
		return err
	}

	_, err := qc.EnsureQueueWithArgs(ShipmentJobsQueue, amqp.Table{
		"x-dead-letter-exchange":    ShipmentJobsExchange,
		"x-dead-letter-routing-key": ShipmentJobsDeadRK,
	})
	if err != nil {
		return err
	}
	return qc.BindQueue(ShipmentJobsQueue, ShipmentJobsExchange, ShipmentJobsRK)
}

func (c *Client) EnqueueShipment(ctx context.Context, purchaseID, sellerID uuid.UUID, source string) error {
	return c.PublishJSON(ctx, ShipmentJobsExchange, ShipmentJobsRK, ShipmentJob{
		PurchaseID: purchaseID,
		SellerID:   sellerID,
		Source:     source,
		CreatedAt:  time.Now().UTC(),
	})
}

func DecodeShipmentJob(body []byte) (ShipmentJob, error) {
	var job ShipmentJob
	if err := json.Unmarshal(body, &job); err != nil {
		return ShipmentJob{}, err
	}
	if job.PurchaseID == uuid.Nil {
		return ShipmentJob{}, errors.New("shipment job without purchase id")
	}
	return job, nil
}
