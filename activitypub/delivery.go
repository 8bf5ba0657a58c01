package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/okapi-social/okapi/domain"
	"github.com/okapi-social/okapi/util"
)

var retryBackoffMinutes = []int{1, 5, 15, 60, 240, 1440}

const maxDeliveryAttempts = 10

// StartDeliveryWorker runs the delivery queue drain loop until the
// context is cancelled.
func StartDeliveryWorker(ctx context.Context, store Store, conf *util.AppConfig) {
	log.Info("Starting delivery worker")

	ticker := time.NewTicker(10 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info("Delivery worker stopped")
				return
			case <-ticker.C:
				processDeliveryQueue(ctx, store, conf)
			}
		}
	}()
}

func processDeliveryQueue(ctx context.Context, store Store, conf *util.AppConfig) {
	err, items := store.ReadPendingDeliveries(50)
	if err != nil {
		log.Errorf("DeliveryWorker: failed to read queue: %v", err)
		return
	}
	if items == nil || len(*items) == 0 {
		return
	}

	log.Debugf("DeliveryWorker: processing %d pending deliveries", len(*items))

	for _, item := range *items {
		if err := deliver(ctx, store, conf, &item); err != nil {
			item.Attempts++
			if item.Attempts >= maxDeliveryAttempts {
				log.Warnf("DeliveryWorker: giving up on %s after %d attempts", item.InboxURI, item.Attempts)
				store.DeleteDelivery(item.Id)
				continue
			}
			backoff := retryBackoffMinutes[min(item.Attempts-1, len(retryBackoffMinutes)-1)]
			item.NextRetryAt = time.Now().Add(time.Duration(backoff) * time.Minute)
			log.Infof("DeliveryWorker: delivery to %s failed (attempt %d), retry in %dm: %v",
				item.InboxURI, item.Attempts, backoff, err)
			store.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt)
		} else {
			log.Debugf("DeliveryWorker: delivered to %s", item.InboxURI)
			store.DeleteDelivery(item.Id)
		}
	}
}

// deliver signs and posts one queued activity. The queue row names the
// sending account, whose private key signs the request.
func deliver(ctx context.Context, store Store, conf *util.AppConfig, item *domain.DeliveryQueueItem) error {
	err, sender := store.ReadAccById(item.SenderId)
	if err != nil {
		return fmt.Errorf("failed to load sender %s: %w", item.SenderId, err)
	}

	err, pair := store.ReadKeyPairByOwner(sender.Id)
	if err != nil || pair == nil {
		return fmt.Errorf("no keypair for sender %s", sender.Username)
	}

	privateKey, err := ParsePrivateKey(pair.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	body := []byte(item.ActivityJSON)
	req, err := http.NewRequestWithContext(ctx, "POST", item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	keyID := fmt.Sprintf("%s#public-key", sender.ActorURI(conf.Conf.SslDomain))
	if err := SignRequest(req, body, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status %d", resp.StatusCode)
	}
	return nil
}
