package subscription

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vpn-subscription-backend/internal/db"
	"vpn-subscription-backend/internal/db/dbtest"
	"vpn-subscription-backend/internal/vless"
	"vpn-subscription-backend/internal/xui"
)

type recordingPanel struct {
	mu       sync.Mutex
	enabled  []string
	disabled []string
	removed  []string
}

func (p *recordingPanel) EnsureEnabled(_ context.Context, id string) xui.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = append(p.enabled, id)
	return xui.Report{ClientUUID: id, Op: xui.OpEnable}
}

func (p *recordingPanel) EnsureDisabled(_ context.Context, id string) xui.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = append(p.disabled, id)
	return xui.Report{ClientUUID: id, Op: xui.OpDisable}
}

func (p *recordingPanel) Remove(_ context.Context, id string) xui.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, id)
	return xui.Report{ClientUUID: id, Op: xui.OpRemove}
}

type fixture struct {
	users   *db.UserRepo
	subs    *db.SubscriptionRepo
	servers *db.ServerRepo
	panel   *recordingPanel
	svc     *Service
	asm     *Assembler
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	conn := dbtest.New(t)
	f := &fixture{
		users:   db.NewUserRepo(conn),
		subs:    db.NewSubscriptionRepo(conn),
		servers: db.NewServerRepo(conn),
		panel:   &recordingPanel{},
		now:     time.Now().UTC().Truncate(time.Second),
	}
	f.svc = NewService(f.users, f.subs, f.servers, f.panel, "https://vpn.example.com/sub", zap.NewNop())
	f.svc.now = func() time.Time { return f.now }
	f.asm = NewAssembler(f.subs, f.servers, zap.NewNop())
	f.asm.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addSub(t *testing.T, tgID int64, token string, expiresAt time.Time) (*db.User, *db.Subscription) {
	t.Helper()
	user, _, err := f.users.Ensure(context.Background(), tgID)
	require.NoError(t, err)
	sub := &db.Subscription{UserID: user.ID, Token: token, ExpiresAt: expiresAt, IsActive: true}
	require.NoError(t, f.subs.Create(context.Background(), sub))
	return user, sub
}

func (f *fixture) addServer(t *testing.T, s db.Server) db.Server {
	t.Helper()
	require.NoError(t, f.servers.Create(context.Background(), &s))
	return s
}

func TestPayloadTwoServers(t *testing.T) {
	f := newFixture(t)
	user, _ := f.addSub(t, 100, "abc123", f.now.Add(5*day))
	f.addServer(t, dbtest.Server("de", "de.example.com"))
	f.addServer(t, dbtest.Server("nl", "nl.example.com"))

	payload, err := f.asm.Build(context.Background(), "abc123")
	require.NoError(t, err)
	lines := strings.Split(payload, "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "vless://"+user.UUID+"@"), line)
	}
	assert.Contains(t, lines[0], "#DE")
	assert.Contains(t, lines[1], "#NL")
}

func TestPayloadIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.addSub(t, 100, "abc123", f.now.Add(day))
	f.addServer(t, dbtest.Server("de", "de.example.com"))
	f.addServer(t, dbtest.Server("fi", "fi.example.com"))

	first, err := f.asm.Build(context.Background(), "abc123")
	require.NoError(t, err)
	second, err := f.asm.Build(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPayloadExpiredByOneSecond(t *testing.T) {
	f := newFixture(t)
	f.addSub(t, 100, "abc123", f.now.Add(-time.Second))
	f.addServer(t, dbtest.Server("de", "de.example.com"))

	_, err := f.asm.Build(context.Background(), "abc123")
	assert.ErrorIs(t, err, ErrSubscriptionUnavailable)
}

func TestPayloadUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addServer(t, dbtest.Server("de", "de.example.com"))

	_, err := f.asm.Build(ctx, "unknown")
	assert.ErrorIs(t, err, ErrSubscriptionUnavailable)

	user, _ := f.addSub(t, 100, "blocked-user", f.now.Add(day))
	require.NoError(t, f.users.SetActive(ctx, user.ID, false))
	_, err = f.asm.Build(ctx, "blocked-user")
	assert.ErrorIs(t, err, ErrSubscriptionUnavailable)

	_, sub := f.addSub(t, 200, "inactive-sub", f.now.Add(day))
	_, err = f.subs.DeactivateForUser(ctx, sub.UserID)
	require.NoError(t, err)
	_, err = f.asm.Build(ctx, "inactive-sub")
	assert.ErrorIs(t, err, ErrSubscriptionUnavailable)
}

func TestPayloadNoActiveServers(t *testing.T) {
	f := newFixture(t)
	f.addSub(t, 100, "abc123", f.now.Add(day))
	disabled := dbtest.Server("de", "de.example.com")
	disabled.Enabled = false
	f.addServer(t, disabled)

	_, err := f.asm.Build(context.Background(), "abc123")
	assert.ErrorIs(t, err, ErrNoActiveServers)
}

func TestPayloadAbortsOnBadServer(t *testing.T) {
	f := newFixture(t)
	f.addSub(t, 100, "abc123", f.now.Add(day))
	f.addServer(t, dbtest.Server("de", "de.example.com"))
	broken := dbtest.Server("nl", "nl.example.com")
	broken.ShortID = ""
	f.addServer(t, broken)

	payload, err := f.asm.Build(context.Background(), "abc123")
	assert.Empty(t, payload)
	var missing *vless.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"short_id"}, missing.Fields)
}

func TestCreateOrExtendCreatesSubscription(t *testing.T) {
	f := newFixture(t)
	sub, err := f.svc.CreateOrExtend(context.Background(), 100, 30)
	require.NoError(t, err)
	assert.True(t, sub.IsActive)
	assert.True(t, sub.ExpiresAt.Equal(f.now.Add(30*day)))
	assert.NotEmpty(t, sub.Token)
	require.NotNil(t, sub.User)
	assert.Equal(t, []string{sub.User.UUID}, f.panel.enabled)
}

func TestCreateOrExtendFromLaterOfNowAndExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, sub := f.addSub(t, 100, "future", f.now.Add(10*day))
	extended, err := f.svc.CreateOrExtend(ctx, 100, 30)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, extended.ID)
	assert.True(t, extended.ExpiresAt.Equal(f.now.Add(40*day)))

	_, old := f.addSub(t, 200, "lapsed", f.now.Add(-5*day))
	_, err = f.subs.DeactivateForUser(ctx, old.UserID)
	require.NoError(t, err)
	renewed, err := f.svc.CreateOrExtend(ctx, 200, 30)
	require.NoError(t, err)
	assert.Equal(t, old.ID, renewed.ID)
	assert.True(t, renewed.IsActive)
	assert.True(t, renewed.ExpiresAt.Equal(f.now.Add(30*day)))

	_, err = f.svc.CreateOrExtend(ctx, 200, 0)
	assert.ErrorIs(t, err, ErrInvalidDays)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user, _ := f.addSub(t, 100, "abc123", f.now.Add(day))

	n, err := f.svc.Revoke(ctx, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{user.UUID}, f.panel.disabled)

	summary, err := f.svc.SummaryByTgID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, summary.Status)

	_, err = f.svc.Revoke(ctx, 999)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestBanDeactivatesAndRemovesClient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addServer(t, dbtest.Server("de", "de.example.com"))
	user, _ := f.addSub(t, 100, "abc123", f.now.Add(day))

	require.NoError(t, f.svc.Ban(ctx, 100))
	assert.Equal(t, []string{user.UUID}, f.panel.removed)

	stored, err := f.users.FindByTgID(ctx, 100)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	sub, err := f.subs.FindByToken(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, sub.IsActive)

	_, err = f.asm.Build(ctx, "abc123")
	assert.ErrorIs(t, err, ErrSubscriptionUnavailable)

	assert.ErrorIs(t, f.svc.Ban(ctx, 999), db.ErrNotFound)
}

func TestGrantAfterBanIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sub := f.addSub(t, 100, "abc123", f.now.Add(day))
	require.NoError(t, f.svc.Ban(ctx, 100))

	_, err := f.svc.CreateOrExtend(ctx, 100, 30)
	assert.ErrorIs(t, err, ErrIdentityBlocked)
	assert.Empty(t, f.panel.enabled)

	stored, err := f.subs.FindByToken(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.True(t, stored.ExpiresAt.Equal(sub.ExpiresAt))

	summary, err := f.svc.SummaryByTgID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, summary.Status)
}

func TestSummaryByTgID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addServer(t, dbtest.Server("de", "de.example.com"))

	summary, err := f.svc.SummaryByTgID(ctx, 555)
	require.NoError(t, err)
	assert.Equal(t, StatusNone, summary.Status)
	assert.EqualValues(t, 1, summary.ServersCount)
	_, err = f.users.FindByTgID(ctx, 555)
	assert.ErrorIs(t, err, db.ErrNotFound)

	f.addSub(t, 100, "abc123", f.now.Add(3*day))
	summary, err = f.svc.SummaryByTgID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, summary.Status)
	require.NotNil(t, summary.SubURL)
	assert.Equal(t, "https://vpn.example.com/sub/abc123", *summary.SubURL)
	require.NotNil(t, summary.ExpiresInDays)
	assert.Equal(t, 3, *summary.ExpiresInDays)
}
