package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gameshop/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func install(t *testing.T, r *Registry, nickname, owner string, credits int64) {
	t.Helper()
	_, err := r.Install(nickname, owner, func(prev *Account) (*Account, error) {
		return &Account{ID: 1, Nickname: nickname, Credits: credits}, nil
	})
	require.NoError(t, err)
}

func TestRegistry_InstallAndSnapshot(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Snapshot("alice")
	assert.False(t, ok)

	install(t, r, "alice", "conn-1", 300)

	view, ok := r.Snapshot("alice")
	require.True(t, ok)
	assert.Equal(t, "alice", view.Nickname)
	assert.Equal(t, int64(300), view.Credits)
	assert.NotNil(t, view.Items)
	assert.Equal(t, []string{"alice"}, r.Nicknames())
}

func TestRegistry_InstallOverwritesPreviousSession(t *testing.T) {
	r := NewRegistry()
	install(t, r, "alice", "conn-1", 100)

	var seen *Account
	_, err := r.Install("alice", "conn-2", func(prev *Account) (*Account, error) {
		seen = prev
		return &Account{ID: 1, Nickname: "alice", Credits: 999}, nil
	})
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.Equal(t, int64(100), seen.Credits)

	owner, ok := r.ownerOf("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-2", owner)
}

func TestRegistry_InstallErrorKeepsState(t *testing.T) {
	r := NewRegistry()

	_, err := r.Install("alice", "conn-1", func(prev *Account) (*Account, error) {
		return nil, errors.New("store down")
	})
	assert.Error(t, err)

	_, ok := r.Snapshot("alice")
	assert.False(t, ok)
	assert.Empty(t, r.entries)
}

func TestRegistry_MutateWithoutSession(t *testing.T) {
	r := NewRegistry()

	_, err := r.Mutate("ghost", func(acc *Account) error { return nil })
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRegistry_MutateErrorLeavesMirrorUntouched(t *testing.T) {
	r := NewRegistry()
	install(t, r, "alice", "conn-1", 100)

	_, err := r.Mutate("alice", func(acc *Account) error {
		acc.Credits = 0
		acc.Items["sword"] = 1
		return errors.New("rollback")
	})
	assert.Error(t, err)

	view, _ := r.Snapshot("alice")
	assert.Equal(t, int64(100), view.Credits)
	assert.Empty(t, view.Items)
}

func TestRegistry_SnapshotIsDetached(t *testing.T) {
	r := NewRegistry()
	install(t, r, "alice", "conn-1", 100)

	_, err := r.Mutate("alice", func(acc *Account) error {
		acc.Items["sword"] = 1
		return nil
	})
	require.NoError(t, err)

	view, _ := r.Snapshot("alice")
	view.Items["sword"] = 42

	again, _ := r.Snapshot("alice")
	assert.Equal(t, model.Inventory{"sword": 1}, again.Items)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	install(t, r, "alice", "conn-1", 100)

	assert.True(t, r.Remove("alice"))
	assert.False(t, r.Remove("alice"))
	assert.False(t, r.Remove("nobody"))
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.entries)
}

func TestRegistry_ReleaseChecksOwner(t *testing.T) {
	r := NewRegistry()
	install(t, r, "alice", "conn-1", 100)
	install(t, r, "alice", "conn-2", 200)

	assert.False(t, r.Release("alice", "conn-1"))
	_, ok := r.Snapshot("alice")
	assert.True(t, ok)

	assert.True(t, r.Release("alice", "conn-2"))
	_, ok = r.Snapshot("alice")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentMutationsSerialize(t *testing.T) {
	r := NewRegistry()
	install(t, r, "alice", "conn-1", 1000)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Mutate("alice", func(acc *Account) error {
				if acc.Credits < 30 {
					return errors.New("insufficient")
				}
				acc.Credits -= 30
				acc.Items["rope"]++
				return nil
			})
		}()
	}
	wg.Wait()

	view, _ := r.Snapshot("alice")
	// 1000 / 30 = 33 次成功
	assert.Equal(t, int64(1000-33*30), view.Credits)
	assert.Equal(t, int64(33), view.Items["rope"])
}

func TestRegistry_DistinctNicknamesDoNotBlock(t *testing.T) {
	r := NewRegistry()
	install(t, r, "alice", "conn-1", 100)
	install(t, r, "bob", "conn-2", 100)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = r.Mutate("alice", func(acc *Account) error {
			close(entered)
			<-unblock
			return nil
		})
	}()

	<-entered
	_, err := r.Mutate("bob", func(acc *Account) error {
		acc.Credits++
		return nil
	})
	require.NoError(t, err)
	close(unblock)
	<-done

	view, _ := r.Snapshot("bob")
	assert.Equal(t, int64(101), view.Credits)
}

func TestRegistry_ConcurrentInstallRemove(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("p%d", i%5)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = r.Install(name, "c", func(prev *Account) (*Account, error) {
				return &Account{Nickname: name}, nil
			})
		}()
		go func() {
			defer wg.Done()
			r.Remove(name)
			_ = r.Nicknames()
		}()
	}
	wg.Wait()

	for _, name := range r.Nicknames() {
		r.Remove(name)
	}
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.entries)
}

// 在空昵称上持有锁的调用释放时，正在等锁的 Install 装入的会话必须保留
func TestRegistry_ReleaseOnAbsentKeepsWaitingInstall(t *testing.T) {
	r := NewRegistry()

	// 模拟 Snapshot/Mutate 在尚未登录的昵称上持有锁
	e := r.acquire("alice")

	installed := make(chan error, 1)
	go func() {
		_, err := r.Install("alice", "conn-2", func(prev *Account) (*Account, error) {
			return &Account{ID: 1, Nickname: "alice", Credits: 300}, nil
		})
		installed <- err
	}()

	// 等 Install 拿到引用并阻塞在昵称锁上
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return e.refs == 2
	}, time.Second, time.Millisecond)

	r.release("alice", e)
	require.NoError(t, <-installed)

	view, ok := r.Snapshot("alice")
	require.True(t, ok)
	assert.Equal(t, int64(300), view.Credits)

	r.mu.Lock()
	assert.Same(t, e, r.entries["alice"])
	assert.Equal(t, 0, e.refs)
	r.mu.Unlock()
}

// 未登录昵称上的只读或失败操作与登录并发时，成功的登录总是可见
func TestRegistry_InstallVisibleUnderConcurrentMisses(t *testing.T) {
	r := NewRegistry()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = r.Snapshot("alice")
				_, _ = r.Mutate("alice", func(acc *Account) error { return errors.New("noop") })
				_, _ = r.Install("alice", "failed", func(prev *Account) (*Account, error) {
					return nil, errors.New("store down")
				})
				_ = r.Nicknames()
			}
		}()
	}

	for i := 0; i < 500; i++ {
		install(t, r, "alice", "conn-1", int64(i))
		_, ok := r.Snapshot("alice")
		if !assert.True(t, ok, "session lost after install %d", i) {
			break
		}
		r.Remove("alice")
	}

	close(stop)
	wg.Wait()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.entries)
}
