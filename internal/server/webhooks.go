package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"washplan/internal/config"
	"washplan/internal/feed"
	"washplan/internal/logging"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	webhookAttempts       = 3
	webhookBackoff        = 500 * time.Millisecond
)

type webhookDispatcher struct {
	hook   config.WebhookConfig
	client *http.Client
	log    logrus.FieldLogger
	loc    *time.Location
}

// StartWebhooks delivers every change matching each active hook until ctx
// is done. It returns a function that waits for the dispatchers to stop.
func StartWebhooks(ctx context.Context, b *feed.Broker, hooks []config.WebhookConfig, loc *time.Location, log logrus.FieldLogger) func() {
	if log == nil {
		log = logging.Discard()
	}
	var wg sync.WaitGroup
	for _, hook := range hooks {
		if !hook.Active() {
			continue
		}
		timeout := defaultWebhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		d := &webhookDispatcher{
			hook:   hook,
			client: &http.Client{Timeout: timeout},
			log:    log.WithField("webhook", hook.URL),
			loc:    loc,
		}
		for _, f := range d.filters() {
			sub := b.Subscribe(f)
			wg.Add(1)
			go func(f feed.Filter, sub *feed.Subscription) {
				defer wg.Done()
				for {
					d.run(ctx, sub)
					sub.Close()
					if ctx.Err() != nil || !errors.Is(sub.Err(), feed.ErrOverflow) {
						return
					}
					d.log.Warn("webhook: fell behind the change feed, resuming from the latest change")
					sub = b.Subscribe(f)
				}
			}(f, sub)
		}
	}
	return wg.Wait
}

func (d *webhookDispatcher) filters() []feed.Filter {
	if len(d.hook.Tables) == 0 {
		return []feed.Filter{{}}
	}
	out := make([]feed.Filter, 0, len(d.hook.Tables))
	for _, table := range d.hook.Tables {
		out = append(out, feed.Filter{Table: strings.TrimSpace(table)})
	}
	return out
}

func (d *webhookDispatcher) run(ctx context.Context, sub *feed.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub.C():
			if !ok {
				return
			}
			if err := d.deliver(ctx, c); err != nil {
				d.log.WithError(err).WithField("event_id", c.EventID).Warn("webhook: delivery failed")
			}
		}
	}
}

func (d *webhookDispatcher) deliver(ctx context.Context, c feed.Change) error {
	data, err := json.Marshal(changeMessage(c, d.loc))
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < webhookAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(webhookBackoff * time.Duration(attempt)):
			}
		}
		if lastErr = d.post(ctx, c, data); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (d *webhookDispatcher) post(ctx context.Context, c feed.Change, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Washplan-Event", c.Table+"."+strings.ToLower(c.Op))
	req.Header.Set("X-Washplan-Delivery", fmt.Sprintf("%d", c.EventID))
	req.Header.Set("X-Washplan-Project", c.ProjectID)
	if strings.TrimSpace(d.hook.Secret) != "" {
		req.Header.Set("X-Washplan-Secret", d.hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
