package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moolawar/moolabot/internal/model"
	"github.com/moolawar/moolabot/internal/repository"
)

// mockUserRepo はListEligibleのみを実装するテスト用リポジトリ。
type mockUserRepo struct {
	users []model.RankedUser
	err   error
}

func (m *mockUserRepo) FindByDiscordID(ctx context.Context, id string) (*model.User, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *mockUserRepo) SetTeam(ctx context.Context, id string, team model.Team) error {
	return fmt.Errorf("not implemented")
}

func (m *mockUserRepo) AddPoints(ctx context.Context, id string, amount decimal.Decimal) error {
	return fmt.Errorf("not implemented")
}

func (m *mockUserRepo) SubtractPoints(ctx context.Context, id string, amount decimal.Decimal) error {
	return fmt.Errorf("not implemented")
}

func (m *mockUserRepo) Transfer(ctx context.Context, senderID, receiverID string, amount decimal.Decimal) error {
	return fmt.Errorf("not implemented")
}

func (m *mockUserRepo) SumPointsForTeam(ctx context.Context, team model.Team) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("not implemented")
}

func (m *mockUserRepo) ListTop(ctx context.Context, limit int) ([]model.RankedUser, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *mockUserRepo) ListTopByTeam(ctx context.Context, team model.Team, limit int) ([]model.RankedUser, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *mockUserRepo) ListEligible(ctx context.Context, minPoints decimal.Decimal) ([]model.RankedUser, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []model.RankedUser
	for _, u := range m.users {
		if u.Points.GreaterThanOrEqual(minPoints) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockUserRepo) StreamRankedByTeam(ctx context.Context, team model.Team, fn func(model.RankedUser) error) error {
	return fmt.Errorf("not implemented")
}

var _ repository.UserRepository = (*mockUserRepo)(nil)

type mockSettingsRepo struct {
	minimum int64
	err     error
}

func (m *mockSettingsRepo) GetWhitelistMinimum(ctx context.Context) (int64, error) {
	return m.minimum, m.err
}

func (m *mockSettingsRepo) SetWhitelistMinimum(ctx context.Context, minimum int64) error {
	m.minimum = minimum
	return nil
}

var _ repository.SettingsRepository = (*mockSettingsRepo)(nil)

// mockProvider は付与済みロールをメモリ上で管理するテスト用RoleProvider。
type mockProvider struct {
	mu         sync.Mutex
	held       map[string]bool // "discordID/roleID"
	hasRoleErr map[string]error
	grantErr   map[string]error
	grants     int
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		held:       make(map[string]bool),
		hasRoleErr: make(map[string]error),
		grantErr:   make(map[string]error),
	}
}

func (m *mockProvider) key(discordID, roleID string) string {
	return discordID + "/" + roleID
}

func (m *mockProvider) HasRole(ctx context.Context, discordID, roleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hasRoleErr[discordID]; err != nil {
		return false, err
	}
	return m.held[m.key(discordID, roleID)], nil
}

func (m *mockProvider) GrantRole(ctx context.Context, discordID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.grantErr[discordID]; err != nil {
		return err
	}
	m.held[m.key(discordID, roleID)] = true
	m.grants++
	return nil
}

type countingRecorder struct {
	grants    int
	failures  int
	durations int
}

func (c *countingRecorder) RecordRoleGrant()            { c.grants++ }
func (c *countingRecorder) RecordReconcileUserFailure() { c.failures++ }
func (c *countingRecorder) RecordReconcileDuration(d time.Duration) {
	c.durations++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func ranked(id string, points int64) model.RankedUser {
	return model.RankedUser{
		DiscordID: id,
		Address:   "0x" + id,
		Points:    decimal.NewFromInt(points),
	}
}

func TestReconciler_Pass_GrantsAboveThreshold(t *testing.T) {
	users := &mockUserRepo{users: []model.RankedUser{
		ranked("alice", 150),
		ranked("bob", 99),
		ranked("carol", 100),
	}}
	settings := &mockSettingsRepo{minimum: 100}
	provider := newMockProvider()
	rec := &countingRecorder{}

	r := NewReconciler(users, settings, provider, rec, testLogger(), Config{
		WhitelistRoleID: "wl-role",
	})

	if err := r.Pass(context.Background()); err != nil {
		t.Fatalf("Pass() error = %v", err)
	}

	if !provider.held["alice/wl-role"] {
		t.Error("alice should have been granted the whitelist role")
	}
	if !provider.held["carol/wl-role"] {
		t.Error("carol should have been granted the whitelist role")
	}
	if provider.held["bob/wl-role"] {
		t.Error("bob is below the threshold and should not have the role")
	}
	if rec.grants != 2 {
		t.Errorf("recorded grants = %d, want 2", rec.grants)
	}
	if rec.durations != 1 {
		t.Errorf("recorded durations = %d, want 1", rec.durations)
	}
}

func TestReconciler_Pass_Idempotent(t *testing.T) {
	users := &mockUserRepo{users: []model.RankedUser{
		ranked("alice", 150),
	}}
	settings := &mockSettingsRepo{minimum: 100}
	provider := newMockProvider()

	r := NewReconciler(users, settings, provider, nil, testLogger(), Config{
		WhitelistRoleID: "wl-role",
	})

	if err := r.Pass(context.Background()); err != nil {
		t.Fatalf("first Pass() error = %v", err)
	}
	if err := r.Pass(context.Background()); err != nil {
		t.Fatalf("second Pass() error = %v", err)
	}

	if provider.grants != 1 {
		t.Errorf("grants = %d, want 1 (second pass must not regrant)", provider.grants)
	}
}

func TestReconciler_Pass_ContinuesAfterUserFailure(t *testing.T) {
	users := &mockUserRepo{users: []model.RankedUser{
		ranked("alice", 150),
		ranked("bob", 150),
		ranked("carol", 150),
	}}
	settings := &mockSettingsRepo{minimum: 100}
	provider := newMockProvider()
	provider.hasRoleErr["bob"] = errors.New("member fetch failed")
	rec := &countingRecorder{}

	r := NewReconciler(users, settings, provider, rec, testLogger(), Config{
		WhitelistRoleID: "wl-role",
	})

	if err := r.Pass(context.Background()); err != nil {
		t.Fatalf("Pass() error = %v", err)
	}

	if !provider.held["alice/wl-role"] || !provider.held["carol/wl-role"] {
		t.Error("users after the failing one should still be processed")
	}
	if rec.failures != 1 {
		t.Errorf("recorded failures = %d, want 1", rec.failures)
	}
	if rec.grants != 2 {
		t.Errorf("recorded grants = %d, want 2", rec.grants)
	}
}

func TestReconciler_Pass_MultipleTiers(t *testing.T) {
	users := &mockUserRepo{users: []model.RankedUser{
		ranked("alice", 500),
		ranked("bob", 150),
	}}
	settings := &mockSettingsRepo{minimum: 100}
	provider := newMockProvider()

	r := NewReconciler(users, settings, provider, nil, testLogger(), Config{
		WhitelistRoleID:  "wl-role",
		MoolalistRoleID:  "ml-role",
		MoolalistMinimum: 400,
	})

	if err := r.Pass(context.Background()); err != nil {
		t.Fatalf("Pass() error = %v", err)
	}

	if !provider.held["alice/wl-role"] || !provider.held["alice/ml-role"] {
		t.Error("alice should hold both tier roles")
	}
	if !provider.held["bob/wl-role"] {
		t.Error("bob should hold the whitelist role")
	}
	if provider.held["bob/ml-role"] {
		t.Error("bob is below the moolalist threshold")
	}
}

func TestReconciler_Pass_SkipsDisabledTiers(t *testing.T) {
	users := &mockUserRepo{users: []model.RankedUser{
		ranked("alice", 500),
	}}
	settings := &mockSettingsRepo{minimum: 0}
	provider := newMockProvider()

	r := NewReconciler(users, settings, provider, nil, testLogger(), Config{
		WhitelistRoleID:  "wl-role",
		MoolalistRoleID:  "",
		MoolalistMinimum: 400,
		FreeMintRoleID:   "fm-role",
		FreeMintMinimum:  0,
	})

	if err := r.Pass(context.Background()); err != nil {
		t.Fatalf("Pass() error = %v", err)
	}

	if provider.grants != 0 {
		t.Errorf("grants = %d, want 0 (all tiers disabled)", provider.grants)
	}
}

func TestReconciler_Pass_ContextCancel(t *testing.T) {
	users := &mockUserRepo{users: []model.RankedUser{
		ranked("alice", 150),
	}}
	settings := &mockSettingsRepo{minimum: 100}
	provider := newMockProvider()

	r := NewReconciler(users, settings, provider, nil, testLogger(), Config{
		WhitelistRoleID: "wl-role",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Pass(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Pass() error = %v, want context.Canceled", err)
	}
	if provider.grants != 0 {
		t.Errorf("grants = %d, want 0", provider.grants)
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	users := &mockUserRepo{users: []model.RankedUser{
		ranked("alice", 150),
	}}
	settings := &mockSettingsRepo{minimum: 100}
	provider := newMockProvider()

	r := NewReconciler(users, settings, provider, nil, testLogger(), Config{
		WhitelistRoleID: "wl-role",
	})
	s := NewScheduler(r, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	// 起動直後の1回分の実行完了を待つ
	deadline := time.After(2 * time.Second)
	for {
		provider.mu.Lock()
		n := provider.grants
		provider.mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("initial pass did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}

// blockingProvider はコンテキストの期限まで応答しないRoleProvider。
type blockingProvider struct{}

func (blockingProvider) HasRole(ctx context.Context, discordID, roleID string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (blockingProvider) GrantRole(ctx context.Context, discordID, roleID string) error {
	<-ctx.Done()
	return ctx.Err()
}

// プロバイダが応答しない場合でもProviderTimeoutでパスが完了する。
func TestReconciler_Pass_ProviderTimeoutBoundsCalls(t *testing.T) {
	users := &mockUserRepo{users: []model.RankedUser{
		ranked("alice", 150),
		ranked("bob", 150),
	}}
	settings := &mockSettingsRepo{minimum: 100}
	rec := &countingRecorder{}

	r := NewReconciler(users, settings, blockingProvider{}, rec, testLogger(), Config{
		WhitelistRoleID: "wl-role",
		ProviderTimeout: 20 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- r.Pass(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Pass() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pass() did not complete; provider calls are not bounded")
	}

	if rec.failures != 2 {
		t.Errorf("recorded failures = %d, want 2", rec.failures)
	}
	if rec.grants != 0 {
		t.Errorf("recorded grants = %d, want 0", rec.grants)
	}
}

// ProviderTimeout未設定時はタイムアウトを適用せず、親コンテキストのみに従う。
func TestReconciler_ProviderContext_ZeroTimeoutKeepsParent(t *testing.T) {
	r := NewReconciler(nil, nil, nil, nil, testLogger(), Config{})

	ctx, cancel := r.providerContext(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Error("expected no deadline when ProviderTimeout is unset")
	}

	r = NewReconciler(nil, nil, nil, nil, testLogger(), Config{ProviderTimeout: time.Second})
	ctx, cancel = r.providerContext(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Error("expected a deadline when ProviderTimeout is set")
	}
}
