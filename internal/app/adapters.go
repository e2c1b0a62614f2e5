package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"marketnotify/internal/domain/linkresolver"
	"marketnotify/internal/domain/notification"
	"marketnotify/internal/pkg/apiclient"
)

// pushHandler feeds push traffic into the ingestor. Every (re)connect also
// triggers a poll to catch up on what was missed while offline.
type pushHandler struct {
	ingestor *notification.Ingestor
	poller   *notification.Poller
	logger   *zap.Logger
}

func (h *pushHandler) OnConnected(_ context.Context, userID string) {
	h.logger.Info("push channel joined", zap.String("user_id", userID))
	h.poller.Refresh()
}

func (h *pushHandler) OnEvent(ctx context.Context, name string, data json.RawMessage) {
	h.ingestor.Handle(ctx, name, data)
}

type productSearch struct {
	client *apiclient.Client
}

func (p productSearch) SearchProducts(ctx context.Context, query string) ([]linkresolver.Product, error) {
	hits, err := p.client.SearchProducts(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]linkresolver.Product, len(hits))
	for i, h := range hits {
		out[i] = linkresolver.Product{ID: h.ID, Title: h.Title}
	}
	return out, nil
}

// terminalAlerter rings the terminal bell and logs a desktop line.
type terminalAlerter struct {
	out    io.Writer
	sound  bool
	logger *zap.Logger
}

func (a *terminalAlerter) Sound() error {
	if !a.sound {
		return nil
	}
	_, err := fmt.Fprint(a.out, "\a")
	return err
}

func (a *terminalAlerter) Desktop(rec notification.Record) error {
	a.logger.Info("new notification",
		zap.String("id", rec.ID),
		zap.String("type", string(rec.Type)),
		zap.String("priority", string(rec.EffectivePriority())),
		zap.String("message", rec.Message),
	)
	return nil
}
