package events

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/clock"
	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/dedup"
)

const PaymentSucceededConsumerName = "registration-payment-succeeded"

// PaymentSucceededHandler finalizes the paid cart. The checkpoint advance and
// the finalize commit together, so a redelivered event is a no-op.
func PaymentSucceededHandler(store cart.TransactionalStore, dedupRepo *dedup.Repository, clk clock.Clock, logger *log.Logger, consumerName string, consumeEnveloped bool) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		msg, err := parsePaymentSucceeded(body, consumeEnveloped)
		if err != nil {
			return err
		}
		if msg.Payload.CartID == "" {
			return fmt.Errorf("missing cartId")
		}

		partitionKey := msg.Payload.CartID
		var incomingSeq int64
		if msg.Envelope != nil {
			partitionKey = msg.Envelope.PartitionKey
			incomingSeq = msg.Envelope.Sequence
		}

		tx, err := store.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		localDedup := dedupRepo.WithExecutor(tx)

		verdict, lastSeq, err := localDedup.Classify(ctx, consumerName, partitionKey, incomingSeq)
		if err != nil {
			return err
		}
		switch verdict {
		case dedup.Duplicate:
			logger.Printf("skip duplicate cartId=%s partition=%s seq=%d last=%d", msg.Payload.CartID, partitionKey, incomingSeq, lastSeq)
			return nil
		case dedup.Gap:
			logger.Printf("warning: sequence gap for partition=%s seq=%d last=%d", partitionKey, incomingSeq, lastSeq)
		}

		finalized, err := store.FinalizeWithTx(ctx, tx, msg.Payload.CartID, msg.Payload.UserID, clk.Now())
		if err != nil {
			return fmt.Errorf("finalize cart %s: %w", msg.Payload.CartID, err)
		}

		if incomingSeq != 0 {
			if err := localDedup.UpsertLastSequence(ctx, consumerName, partitionKey, incomingSeq); err != nil {
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit finalize: %w", err)
		}

		if finalized {
			logger.Printf("cart finalized cartId=%s orderId=%s", msg.Payload.CartID, msg.Payload.OrderID)
		} else {
			logger.Printf("warning: cart %s not finalized for userId=%s orderId=%s: inactive or owned by another user", msg.Payload.CartID, msg.Payload.UserID, msg.Payload.OrderID)
		}
		return nil
	}
}
