package xui

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

const (
	OpEnable  = "enable"
	OpDisable = "disable"
	OpRemove  = "remove"
)

// Panel часть Client, которую использует Sync.
type Panel interface {
	AddClient(ctx context.Context, inboundID int, clientUUID string) error
	DisableClient(ctx context.Context, inboundID int, clientUUID string) error
	RemoveClient(ctx context.Context, inboundID int, clientUUID string) error
}

// InboundSource отдаёт id инбаундов, привязанных к серверам.
type InboundSource interface {
	InboundIDs(ctx context.Context, enabledOnly bool) ([]int, error)
}

// Observer получает вызов на каждую операцию с панелью.
type Observer interface {
	ObservePanelCall(op string, err error)
}

type Result struct {
	InboundID int
	Err       error
}

// Report результат операции по каждому инбаунду.
type Report struct {
	ClientUUID string
	Op         string
	Results    []Result
	Err        error
}

func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

func (r Report) OK() bool {
	return r.Err == nil && r.Failed() == 0
}

// Sync применяет состояние клиента ко всем инбаундам панели с ограниченной
// параллельностью. Ошибка на одном инбаунде не останавливает остальные.
type Sync struct {
	panel       Panel
	inbounds    InboundSource
	concurrency int
	observer    Observer
	log         *zap.Logger
}

// NewSync создаёт Sync. С nil panel все операции ничего не делают.
func NewSync(panel Panel, inbounds InboundSource, concurrency int, observer Observer, log *zap.Logger) *Sync {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Sync{panel: panel, inbounds: inbounds, concurrency: concurrency, observer: observer, log: log}
}

func (s *Sync) Enabled() bool {
	return s != nil && s.panel != nil
}

func (s *Sync) EnsureEnabled(ctx context.Context, clientUUID string) Report {
	return s.propagate(ctx, OpEnable, clientUUID, true, func(ctx context.Context, id int) error {
		return s.panel.AddClient(ctx, id, clientUUID)
	})
}

// EnsureDisabled проходит и по выключенным серверам, чтобы клиент не ожил
// вместе с повторно включённым инбаундом.
func (s *Sync) EnsureDisabled(ctx context.Context, clientUUID string) Report {
	return s.propagate(ctx, OpDisable, clientUUID, false, func(ctx context.Context, id int) error {
		err := s.panel.DisableClient(ctx, id, clientUUID)
		if errors.Is(err, ErrClientNotFound) {
			return nil
		}
		return err
	})
}

func (s *Sync) Remove(ctx context.Context, clientUUID string) Report {
	return s.propagate(ctx, OpRemove, clientUUID, false, func(ctx context.Context, id int) error {
		return s.panel.RemoveClient(ctx, id, clientUUID)
	})
}

func (s *Sync) propagate(ctx context.Context, op, clientUUID string, enabledOnly bool, fn func(context.Context, int) error) Report {
	report := Report{ClientUUID: clientUUID, Op: op}
	if !s.Enabled() {
		return report
	}
	ids, err := s.inbounds.InboundIDs(ctx, enabledOnly)
	if err != nil {
		s.log.Error("failed to list inbounds", zap.String("op", op), zap.Error(err))
		report.Err = err
		return report
	}
	if len(ids) == 0 {
		return report
	}

	report.Results = make([]Result, len(ids))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i, id int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := fn(ctx, id)
			report.Results[i] = Result{InboundID: id, Err: err}
			if s.observer != nil {
				s.observer.ObservePanelCall(op, err)
			}
			if err != nil {
				s.log.Warn("panel call failed",
					zap.String("op", op),
					zap.Int("inbound_id", id),
					zap.String("client_id", clientUUID),
					zap.Error(err))
			}
		}(i, id)
	}
	wg.Wait()

	if failed := report.Failed(); failed > 0 {
		s.log.Warn("panel propagation incomplete",
			zap.String("op", op),
			zap.String("client_id", clientUUID),
			zap.Int("failed", failed),
			zap.Int("total", len(ids)))
	}
	return report
}
