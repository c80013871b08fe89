package session

import (
	"errors"
	"sort"
	"sync"

	"gameshop/internal/model"
)

var ErrNoSession = errors.New("no active session")

// Account 在线玩家账户的内存镜像
type Account struct {
	ID       int64
	Nickname string
	Credits  int64
	Items    model.Inventory
}

// View 拷贝一份可以安全交给其他 goroutine 的快照
func (a *Account) View() model.AccountView {
	return model.AccountView{
		Nickname: a.Nickname,
		Credits:  a.Credits,
		Items:    a.Items.Clone(),
	}
}

func (a *Account) clone() *Account {
	return &Account{
		ID:       a.ID,
		Nickname: a.Nickname,
		Credits:  a.Credits,
		Items:    a.Items.Clone(),
	}
}

// entry 每个昵称一把锁；refs 记录正在等待或持有这把锁的调用数
type entry struct {
	mu      sync.Mutex
	refs    int
	account *Account
	owner   string
}

// Registry 昵称 -> 在线会话
//
// r.mu 只保护 map 结构，业务操作在各自昵称的 entry.mu 下进行，
// 所以不同昵称之间互不阻塞，同一昵称上的操作串行。
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// acquire 取得昵称锁，必须与 release 成对调用
func (r *Registry) acquire(nickname string) *entry {
	r.mu.Lock()
	e, ok := r.entries[nickname]
	if !ok {
		e = &entry{}
		r.entries[nickname] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()
	return e
}

// release 调用方持有 e.mu；是否删除 entry 必须在两把锁内决定
// 加锁顺序固定为 e.mu -> r.mu，任何地方都不能在持有 r.mu 时等待 e.mu
func (r *Registry) release(nickname string, e *entry) {
	r.mu.Lock()
	e.refs--
	if e.refs == 0 && e.account == nil && r.entries[nickname] == e {
		delete(r.entries, nickname)
	}
	r.mu.Unlock()
	e.mu.Unlock()
}

// Install 在昵称锁内执行 fn 并用返回值覆盖会话（后登录者接管）
// prev 为当前会话的副本，不存在时为 nil；fn 出错时会话保持不变
func (r *Registry) Install(nickname, owner string, fn func(prev *Account) (*Account, error)) (model.AccountView, error) {
	e := r.acquire(nickname)
	defer r.release(nickname, e)

	var prev *Account
	if e.account != nil {
		prev = e.account.clone()
	}

	next, err := fn(prev)
	if err != nil {
		return model.AccountView{}, err
	}
	if next.Items == nil {
		next.Items = model.Inventory{}
	}

	e.account = next
	e.owner = owner
	return next.View(), nil
}

// Mutate 在昵称锁内修改会话
// fn 拿到的是副本，只有 fn 成功返回后副本才会替换会话
func (r *Registry) Mutate(nickname string, fn func(acc *Account) error) (model.AccountView, error) {
	e := r.acquire(nickname)
	defer r.release(nickname, e)

	if e.account == nil {
		return model.AccountView{}, ErrNoSession
	}

	working := e.account.clone()
	if err := fn(working); err != nil {
		return model.AccountView{}, err
	}

	e.account = working
	return working.View(), nil
}

// Snapshot 读取会话快照
func (r *Registry) Snapshot(nickname string) (model.AccountView, bool) {
	e := r.acquire(nickname)
	defer r.release(nickname, e)

	if e.account == nil {
		return model.AccountView{}, false
	}
	return e.account.View(), true
}

// Remove 删除会话，不存在也不报错
func (r *Registry) Remove(nickname string) bool {
	e := r.acquire(nickname)
	defer r.release(nickname, e)

	existed := e.account != nil
	e.account = nil
	e.owner = ""
	return existed
}

// Release 只有会话仍归 owner 所有时才删除，用于连接断开时的清理
func (r *Registry) Release(nickname, owner string) bool {
	e := r.acquire(nickname)
	defer r.release(nickname, e)

	if e.account == nil || e.owner != owner {
		return false
	}
	e.account = nil
	e.owner = ""
	return true
}

// ownerOf 返回持有会话的连接标识
func (r *Registry) ownerOf(nickname string) (string, bool) {
	e := r.acquire(nickname)
	defer r.release(nickname, e)

	if e.account == nil {
		return "", false
	}
	return e.owner, true
}

// Nicknames 当前在线的昵称，按字典序
func (r *Registry) Nicknames() []string {
	r.mu.Lock()
	candidates := make([]*entry, 0, len(r.entries))
	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		e.refs++
		candidates = append(candidates, e)
		names = append(names, name)
	}
	r.mu.Unlock()

	online := make([]string, 0, len(names))
	for i, e := range candidates {
		e.mu.Lock()
		if e.account != nil {
			online = append(online, names[i])
		}
		r.release(names[i], e)
	}

	sort.Strings(online)
	return online
}

// Len 在线会话数
func (r *Registry) Len() int {
	return len(r.Nicknames())
}
