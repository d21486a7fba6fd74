package services

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vpn-subscription-backend/internal/db"
	"vpn-subscription-backend/internal/logger"
)

type ServerLister interface {
	ListEnabled(ctx context.Context) ([]db.Server, error)
}

type ServerStatus struct {
	ServerID    uint
	Label       string
	Address     string
	Online      bool
	LastChecked time.Time
}

// ServerProber проверяет доступность серверов по TCP и хранит последний
// результат для команды /servers.
type ServerProber struct {
	servers  ServerLister
	notifier *logger.Notifier
	timeout  time.Duration
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
	log      *zap.Logger

	mu   sync.RWMutex
	last []ServerStatus
	down map[uint]bool
}

func NewServerProber(servers ServerLister, notifier *logger.Notifier, timeout time.Duration, log *zap.Logger) *ServerProber {
	d := &net.Dialer{}
	return &ServerProber{
		servers:  servers,
		notifier: notifier,
		timeout:  timeout,
		dial:     d.DialContext,
		log:      log,
		down:     map[uint]bool{},
	}
}

func (p *ServerProber) Statuses() []ServerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ServerStatus, len(p.last))
	copy(out, p.last)
	return out
}

// Probe проверяет все включённые серверы. Админ получает уведомление, когда
// сервер становится недоступен, а не при каждой неудачной проверке.
func (p *ServerProber) Probe(ctx context.Context) ([]ServerStatus, error) {
	servers, err := p.servers.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]ServerStatus, len(servers))
	var wg sync.WaitGroup
	for i, srv := range servers {
		wg.Add(1)
		go func(i int, srv db.Server) {
			defer wg.Done()
			statuses[i] = p.check(ctx, srv)
		}(i, srv)
	}
	wg.Wait()

	p.mu.Lock()
	var alerts []string
	for _, st := range statuses {
		if !st.Online && !p.down[st.ServerID] {
			alerts = append(alerts, fmt.Sprintf("server %s (%s) is unreachable", st.Label, st.Address))
		}
		p.down[st.ServerID] = !st.Online
	}
	p.last = statuses
	p.mu.Unlock()

	for _, a := range alerts {
		p.log.Warn(a)
		p.notifier.NotifyAdmin(a)
	}
	return statuses, nil
}

func (p *ServerProber) check(ctx context.Context, srv db.Server) ServerStatus {
	label := strings.ToUpper(srv.CountryCode)
	if srv.Name != nil && *srv.Name != "" {
		label = *srv.Name
	}
	st := ServerStatus{
		ServerID: srv.ID,
		Label:    label,
		Address:  net.JoinHostPort(srv.Host, strconv.Itoa(srv.Port)),
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, err := p.dial(ctx, "tcp", st.Address)
	if err == nil {
		st.Online = true
		conn.Close()
	}
	st.LastChecked = time.Now()
	return st
}

func (p *ServerProber) RunSafe(ctx context.Context) {
	defer p.notifier.Recover("server prober")
	if _, err := p.Probe(ctx); err != nil {
		p.log.Error("server probe failed", zap.Error(err))
	}
}
