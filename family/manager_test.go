package family

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*Manager, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := NewMemoryStore()
	cache := NewCoordinator(rdb, "sf", 10*time.Second)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(Config{FamilyTTL: time.Hour}, store, cache, logger)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr, store, mr
}

func mustCreateFamily(t *testing.T, mgr *Manager, userID, initialJTI string) string {
	t.Helper()
	familyID, err := mgr.CreateFamily(context.Background(), userID, DeviceInfo{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
		IPAddress: "203.0.113.7",
	}, initialJTI, "hash-"+initialJTI)
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	return familyID
}

func TestRotationLifecycleScenario(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	familyID := mustCreateFamily(t, mgr, "u-1", "jti0")

	if err := mgr.Rotate(ctx, familyID, "jti0", "jti1", "h1"); err != nil {
		t.Fatalf("rotate jti0 -> jti1: %v", err)
	}
	if err := mgr.Rotate(ctx, familyID, "jti1", "jti2", "h2"); err != nil {
		t.Fatalf("rotate jti1 -> jti2: %v", err)
	}

	// jti1 is no longer current: replay, and the family dies.
	if err := mgr.Rotate(ctx, familyID, "jti1", "jti3", "h3"); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected replay detection, got %v", err)
	}

	fam, err := store.Get(ctx, familyID)
	if err != nil {
		t.Fatalf("get family: %v", err)
	}
	if !fam.Revoked() || fam.RevocationReason != ReasonReplayDetected {
		t.Fatalf("expected family revoked for replay, got %+v", fam)
	}
	if fam.ReusedJTIOf != "jti1" {
		t.Fatalf("expected reused_jti_of=jti1, got %q", fam.ReusedJTIOf)
	}

	// Even the genuinely current token is dead once the family is revoked.
	if err := mgr.Rotate(ctx, familyID, "jti2", "jti4", "h4"); !errors.Is(err, ErrFamilyNotFound) {
		t.Fatalf("expected dead family, got %v", err)
	}
}

func TestRotateUpdatesCurrentState(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	familyID := mustCreateFamily(t, mgr, "u-1", "jti0")
	if err := mgr.Rotate(ctx, familyID, "jti0", "jti1", "hash-1"); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	fam, err := store.Get(ctx, familyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fam.CurrentJTI != "jti1" || fam.RefreshTokenHash != "hash-1" {
		t.Fatalf("state not updated: %+v", fam)
	}
	if fam.LastUsed.Before(fam.CreatedAt) {
		t.Fatal("last_used not advanced")
	}
}

func TestPresentedJTISucceedsAtMostOnce(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	familyID := mustCreateFamily(t, mgr, "u-1", "jti0")
	if err := mgr.Rotate(ctx, familyID, "jti0", "jti1", "h1"); err != nil {
		t.Fatalf("first rotation: %v", err)
	}

	// Same presented jti again, fresh new jti: must never succeed again.
	err := mgr.Rotate(ctx, familyID, "jti0", "jti9", "h9")
	if !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected replay on re-presented jti, got %v", err)
	}
}

func TestNeverIssuedJTITreatedAsReplay(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	familyID := mustCreateFamily(t, mgr, "u-1", "jti0")
	if err := mgr.Rotate(ctx, familyID, "forged-jti", "jti1", "h1"); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected forged jti treated as replay, got %v", err)
	}
	revoked, err := mgr.IsFamilyRevoked(ctx, familyID)
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatal("expected family revoked after forged presentation")
	}
}

func TestCrossFamilyReuseRejectedWithoutStateChange(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	famA := mustCreateFamily(t, mgr, "u-1", "a0")
	famB := mustCreateFamily(t, mgr, "u-2", "b0")

	if err := mgr.Rotate(ctx, famA, "a0", "a1", "ha1"); err != nil {
		t.Fatalf("rotate A: %v", err)
	}

	// "a1" is already used in family A; family B must reject it.
	if err := mgr.Rotate(ctx, famB, "b0", "a1", "hb1"); !errors.Is(err, ErrJTIReused) {
		t.Fatalf("expected reuse rejection, got %v", err)
	}

	// Reuse rejection mutates nothing: family B stays alive on b0.
	famBState, err := store.Get(ctx, famB)
	if err != nil {
		t.Fatalf("get B: %v", err)
	}
	if famBState.Revoked() || famBState.CurrentJTI != "b0" {
		t.Fatalf("reuse rejection mutated family B: %+v", famBState)
	}
	if err := mgr.Rotate(ctx, famB, "b0", "b1", "hb1"); err != nil {
		t.Fatalf("family B rotation after reuse rejection: %v", err)
	}
}

func TestReuseRejectedOnDurableLedgerWhenCacheCold(t *testing.T) {
	mgr, _, mr := newTestManager(t)
	ctx := context.Background()

	famA := mustCreateFamily(t, mgr, "u-1", "a0")
	famB := mustCreateFamily(t, mgr, "u-2", "b0")
	if err := mgr.Rotate(ctx, famA, "a0", "a1", "ha1"); err != nil {
		t.Fatalf("rotate A: %v", err)
	}

	// Wipe the cache: the durable ledger alone must still catch the reuse.
	mr.FlushAll()
	if err := mgr.Rotate(ctx, famB, "b0", "a1", "hb1"); !errors.Is(err, ErrJTIReused) {
		t.Fatalf("expected ledger-backed reuse rejection, got %v", err)
	}
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	familyID := mustCreateFamily(t, mgr, "u-1", "jti0")

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		newJTI := "race-jti-" + string(rune('a'+i))
		go func(jti string) {
			defer wg.Done()
			results <- mgr.Rotate(ctx, familyID, "jti0", jti, "h-"+jti)
		}(newJTI)
	}
	wg.Wait()
	close(results)

	success := 0
	fail := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrConcurrentRefresh),
			errors.Is(err, ErrReplayDetected),
			errors.Is(err, ErrFamilyNotFound):
			fail++
		default:
			t.Fatalf("unexpected rotation error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
	if fail != n-1 {
		t.Fatalf("expected %d losers, got %d", n-1, fail)
	}

	// Whatever happened afterwards, state is never corrupted: the family
	// either carries the winner's jti or was revoked by a loser's retry
	// being classified as replay.
	fam, err := store.Get(ctx, familyID)
	if err != nil {
		t.Fatalf("get family: %v", err)
	}
	if !fam.Revoked() && fam.CurrentJTI == "jti0" {
		t.Fatal("no rotation took effect despite a reported winner")
	}
}

func TestMutexContentionFailsFast(t *testing.T) {
	mgr, _, mr := newTestManager(t)
	ctx := context.Background()

	familyID := mustCreateFamily(t, mgr, "u-1", "jti0")

	// Simulate another in-flight rotation holding the lease.
	mr.Set("sf:lock:"+familyID, "someone-else")

	err := mgr.Rotate(ctx, familyID, "jti0", "jti1", "h1")
	if !errors.Is(err, ErrConcurrentRefresh) {
		t.Fatalf("expected concurrent refresh rejection, got %v", err)
	}

	// The contender must not have mutated anything: once the lease expires
	// the original rotation still works.
	mr.Del("sf:lock:" + familyID)
	if err := mgr.Rotate(ctx, familyID, "jti0", "jti1", "h1"); err != nil {
		t.Fatalf("rotation after lease release: %v", err)
	}
}

func TestRotationFailsClosedWhenCacheDown(t *testing.T) {
	mgr, _, mr := newTestManager(t)
	ctx := context.Background()

	familyID := mustCreateFamily(t, mgr, "u-1", "jti0")
	mr.Close()

	err := mgr.Rotate(ctx, familyID, "jti0", "jti1", "h1")
	if !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("expected fail-closed cache error, got %v", err)
	}
}

func TestRevokeFamilyIdempotent(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	familyID := mustCreateFamily(t, mgr, "u-1", "jti0")

	if err := mgr.RevokeFamily(ctx, familyID, ReasonLogout); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	first, err := store.Get(ctx, familyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := mgr.RevokeFamily(ctx, familyID, ReasonAdminRevoked); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	second, err := store.Get(ctx, familyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// First revocation's timestamp and reason win.
	if !first.RevokedAt.Equal(*second.RevokedAt) || second.RevocationReason != ReasonLogout {
		t.Fatalf("revocation not idempotent: first=%+v second=%+v", first, second)
	}
}

func TestIsFamilyRevokedFallsBackToStore(t *testing.T) {
	mgr, _, mr := newTestManager(t)
	ctx := context.Background()

	familyID := mustCreateFamily(t, mgr, "u-1", "jti0")
	if err := mgr.RevokeFamily(ctx, familyID, ReasonLogout); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// Cold cache: the durable store must still answer, and repopulate.
	mr.FlushAll()
	revoked, err := mgr.IsFamilyRevoked(ctx, familyID)
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatal("expected revoked verdict from store fallback")
	}
	if !mr.Exists("sf:rvk:" + familyID) {
		t.Fatal("expected revocation cache repopulated on miss")
	}
}

func TestIsJTIRevoked(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	familyID := mustCreateFamily(t, mgr, "u-1", "jti0")
	if err := mgr.Rotate(ctx, familyID, "jti0", "jti1", "h1"); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	superseded, err := mgr.IsJTIRevoked(ctx, "jti0")
	if err != nil {
		t.Fatalf("is jti revoked: %v", err)
	}
	if !superseded {
		t.Fatal("superseded jti should read as revoked")
	}

	current, err := mgr.IsJTIRevoked(ctx, "jti1")
	if err != nil {
		t.Fatalf("is jti revoked: %v", err)
	}
	if current {
		t.Fatal("current jti of a live family should not read as revoked")
	}

	unknown, err := mgr.IsJTIRevoked(ctx, "never-issued")
	if err != nil {
		t.Fatalf("is jti revoked: %v", err)
	}
	if unknown {
		t.Fatal("unknown jti should not read as revoked")
	}

	if err := mgr.RevokeFamily(ctx, familyID, ReasonLogout); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	afterRevoke, err := mgr.IsJTIRevoked(ctx, "jti1")
	if err != nil {
		t.Fatalf("is jti revoked: %v", err)
	}
	if !afterRevoke {
		t.Fatal("jti of a revoked family should read as revoked")
	}
}

func TestUserSessionAdministration(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	fam1 := mustCreateFamily(t, mgr, "u-1", "j1")
	fam2 := mustCreateFamily(t, mgr, "u-1", "j2")
	fam3 := mustCreateFamily(t, mgr, "u-1", "j3")
	other := mustCreateFamily(t, mgr, "u-2", "j4")

	sessions, err := mgr.ListUserSessions(ctx, "u-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}

	// Cross-user revocation must be impossible through this interface.
	if err := mgr.RevokeUserSession(ctx, "u-1", other); !errors.Is(err, ErrFamilyNotFound) {
		t.Fatalf("expected cross-user revocation rejected, got %v", err)
	}

	if err := mgr.RevokeUserSession(ctx, "u-1", fam1); err != nil {
		t.Fatalf("self revoke: %v", err)
	}

	// Revoke the rest except fam2: only fam3 is still live and eligible.
	count, err := mgr.RevokeAllUserSessions(ctx, "u-1", fam2)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 revocation, got %d", count)
	}

	for famID, wantRevoked := range map[string]bool{fam1: true, fam2: false, fam3: true, other: false} {
		revoked, err := mgr.IsFamilyRevoked(ctx, famID)
		if err != nil {
			t.Fatalf("is revoked: %v", err)
		}
		if revoked != wantRevoked {
			t.Fatalf("family %s: revoked=%v, want %v", famID, revoked, wantRevoked)
		}
	}
}

func TestCleanupExpired(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	familyID := mustCreateFamily(t, mgr, "u-1", "j1")

	// Age the family past its expiry.
	fam, err := store.Get(ctx, familyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	expired := fam
	expired.FamilyID = "expired-family"
	expired.CurrentJTI = "expired-jti"
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.Create(ctx, expired); err != nil {
		t.Fatalf("seed expired family: %v", err)
	}

	count, err := mgr.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 removal, got %d", count)
	}
	if _, err := store.Get(ctx, "expired-family"); !errors.Is(err, ErrFamilyNotFound) {
		t.Fatalf("expected expired family removed, got %v", err)
	}
	if _, err := store.Get(ctx, familyID); err != nil {
		t.Fatalf("live family must survive cleanup: %v", err)
	}
}

func TestFirstRotationBindsWhenCreatedWithoutSeedJTI(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	familyID, err := mgr.CreateFamily(ctx, "u-1", DeviceInfo{}, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := mgr.Rotate(ctx, familyID, "login-jti", "jti1", "h1"); err != nil {
		t.Fatalf("binding rotation: %v", err)
	}
	fam, err := store.Get(ctx, familyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fam.CurrentJTI != "jti1" {
		t.Fatalf("expected bound jti1, got %q", fam.CurrentJTI)
	}

	// After binding, the ordinary replay rules apply.
	if err := mgr.Rotate(ctx, familyID, "login-jti", "jti2", "h2"); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected replay after binding, got %v", err)
	}
}

func TestHealthCheckReflectsCacheOutage(t *testing.T) {
	mgr, _, mr := newTestManager(t)
	ctx := context.Background()

	if err := mgr.HealthCheck(ctx); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	mr.Close()
	if err := mgr.HealthCheck(ctx); !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("expected cache outage reported, got %v", err)
	}
}

func TestMarkCurrentFlagsCallersFamily(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	fam1 := mustCreateFamily(t, mgr, "user-1", "jti-a")
	fam2 := mustCreateFamily(t, mgr, "user-1", "jti-b")

	summaries, err := mgr.ListUserSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListUserSessions failed: %v", err)
	}
	MarkCurrent(summaries, fam2)

	for _, s := range summaries {
		switch s.FamilyID {
		case fam2:
			if !s.Current {
				t.Error("caller's own family should be marked current")
			}
		case fam1:
			if s.Current {
				t.Error("other families must not be marked current")
			}
		}
	}
}
