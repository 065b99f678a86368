package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
)

func newWorker(id string) *domain.Connection {
	return &domain.Connection{ID: id, Kind: domain.KindWorker, Status: domain.StatusIdle}
}

func TestClaimIdleWorker_NeverHandsOutTheSameConnectionTwice(t *testing.T) {
	r := New()
	const workers = 8
	const claimers = 50

	for i := 0; i < workers; i++ {
		r.Register(newWorker(fmt.Sprintf("w-%02d", i)))
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if conn := r.ClaimIdleWorker(); conn != nil {
				mu.Lock()
				claimed[conn.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, workers, "every worker should be claimed exactly once")
	for id, n := range claimed {
		assert.Equal(t, 1, n, "worker %s claimed %d times", id, n)
	}
}

func TestClaim_SkipsBusyAndDesktopOnly(t *testing.T) {
	r := New()
	r.Register(newWorker("w-1"))
	require.NoError(t, r.SetStatus("w-1", domain.StatusBusy, "task-1"))
	r.RegisterDesktopOnly("d-1", "192.168.1.10:5900", "")

	assert.Nil(t, r.ClaimIdleWorker(), "busy and desktop-only connections must not be claimable")
}

func TestClaim_ByKind(t *testing.T) {
	r := New()
	r.Register(newWorker("w-1"))
	r.Register(&domain.Connection{ID: "s-1", Kind: domain.KindSupervisor, Status: domain.StatusIdle})

	sup := r.ClaimIdleSupervisor()
	require.NotNil(t, sup)
	assert.Equal(t, "s-1", sup.ID)

	w := r.ClaimIdleWorker()
	require.NotNil(t, w)
	assert.Equal(t, "w-1", w.ID)
}

func TestRelease_MakesConnectionClaimableAgain(t *testing.T) {
	r := New()
	r.Register(newWorker("w-1"))

	first := r.ClaimIdleWorker()
	require.NotNil(t, first)
	assert.Nil(t, r.ClaimIdleWorker())

	r.Release("w-1")
	second := r.ClaimIdleWorker()
	require.NotNil(t, second)
	assert.Equal(t, "w-1", second.ID)
}

func TestRegisterDesktopOnly_DoesNotOverwriteAgent(t *testing.T) {
	r := New()
	r.Register(newWorker("w-1"))

	ok := r.RegisterDesktopOnly("w-1", "192.168.1.10:5900", "creds")
	assert.False(t, ok, "desktop-only registration must not overwrite an attached agent")

	conn, found := r.Get("w-1")
	require.True(t, found)
	assert.True(t, conn.AgentConnected)
}

func TestRegister_UpgradePreservesDesktopIdentity(t *testing.T) {
	r := New()
	require.True(t, r.RegisterDesktopOnly("m-1", "10.0.0.5:5900", "secret"))

	r.Register(&domain.Connection{ID: "m-1", Kind: domain.KindWorker})

	conn, found := r.Get("m-1")
	require.True(t, found)
	assert.True(t, conn.AgentConnected)
	assert.Equal(t, "10.0.0.5:5900", conn.RemoteDesktopAddr)
	assert.Equal(t, "secret", conn.RemoteDesktopCreds)
}

func TestDowngradeToDesktopOnly_KeepsConnectionReachable(t *testing.T) {
	r := New()
	r.Register(&domain.Connection{ID: "m-1", Kind: domain.KindWorker, RemoteDesktopAddr: "10.0.0.5:5900"})
	require.NoError(t, r.SetStatus("m-1", domain.StatusBusy, "task-1"))

	require.NoError(t, r.DowngradeToDesktopOnly("m-1"))

	conn, found := r.Get("m-1")
	require.True(t, found)
	assert.False(t, conn.AgentConnected)
	assert.Equal(t, domain.StatusIdle, conn.Status)
	assert.Empty(t, conn.CurrentTaskID)
	assert.Nil(t, r.ClaimIdleWorker(), "downgraded connection must not execute tasks")
}

func TestCheckHeartbeats_FlagsStaleAgentsOnly(t *testing.T) {
	r := New()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return base })

	r.Register(newWorker("fresh"))
	r.Register(newWorker("stale"))
	r.RegisterDesktopOnly("desktop", "10.0.0.5:5900", "")

	r.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	require.NoError(t, r.UpdateHeartbeat("fresh"))

	stale := r.CheckHeartbeats(time.Minute)
	assert.Equal(t, []string{"stale"}, stale,
		"only the stale full agent is flagged; desktop-only is exempt no matter how old")
}

func TestUnregister_UnknownID(t *testing.T) {
	r := New()
	assert.False(t, r.Unregister("nope"))
}

func TestCount_OnlyAgentsOfKind(t *testing.T) {
	r := New()
	r.Register(newWorker("w-1"))
	r.Register(newWorker("w-2"))
	r.Register(&domain.Connection{ID: "s-1", Kind: domain.KindSupervisor})
	r.RegisterDesktopOnly("d-1", "10.0.0.5:5900", "")

	assert.Equal(t, 2, r.Count(domain.KindWorker))
	assert.Equal(t, 1, r.Count(domain.KindSupervisor))
}
