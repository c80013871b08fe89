package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gameshop/internal/config"
	"gameshop/internal/infrastructure/lock"
	"gameshop/internal/model"
	"gameshop/internal/pkg/logger"
	"gameshop/internal/repository"
	"gameshop/internal/session"
	"gameshop/pkg/idgen"

	"gorm.io/gorm"
)

// 业务错误，直接把 Error() 返回给客户端
var (
	ErrEmptyNickname       = errors.New("nickname is required")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrUnknownItem         = errors.New("unknown item")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrItemNotOwned        = errors.New("does not own item")
)

var domainErrors = []error{
	ErrEmptyNickname,
	ErrNotAuthorized,
	ErrUnknownItem,
	ErrInsufficientCredits,
	ErrItemNotOwned,
}

// IsDomainError 业务错误返回 true，其余都视为基础设施错误
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// EventPublisher 经济事件出口
type EventPublisher interface {
	Publish(event model.EconomyEvent)
}

type LoginResult struct {
	Account    model.AccountView
	LoginBonus int64
	Catalog    map[string]model.Item
}

type TradeResult struct {
	Message    string
	NewCredits int64
	Items      model.Inventory
}

// EconomyService 登录奖励、买入、卖出、余额查询
//
// 同一昵称上的操作在会话表的昵称锁内串行执行；买卖的两次写库放在一个事务里，
// 事务提交后才更新内存会话。
type EconomyService struct {
	accountRepo *repository.AccountRepository
	registry    *session.Registry
	catalog     *model.Catalog
	loginLock   lock.Locker
	events      EventPublisher
	ids         *idgen.Snowflake

	bonusMin int64
	bonusMax int64
	rngMu    sync.Mutex
	rng      *rand.Rand
	now      func() time.Time
}

func NewEconomyService(
	db *gorm.DB,
	registry *session.Registry,
	catalog *model.Catalog,
	cfg *config.BusinessConfig,
	loginLock lock.Locker,
	events EventPublisher,
) (*EconomyService, error) {
	ids, err := idgen.New(cfg.WorkerID)
	if err != nil {
		return nil, err
	}
	if cfg.LoginBonusMax < cfg.LoginBonusMin || cfg.LoginBonusMin < 0 {
		return nil, fmt.Errorf("invalid login bonus range [%d, %d]", cfg.LoginBonusMin, cfg.LoginBonusMax)
	}
	if loginLock == nil {
		loginLock = lock.NopLocker{}
	}
	if events == nil {
		events = nopPublisher{}
	}

	return &EconomyService{
		accountRepo: repository.NewAccountRepository(db),
		registry:    registry,
		catalog:     catalog,
		loginLock:   loginLock,
		events:      events,
		ids:         ids,
		bonusMin:    cfg.LoginBonusMin,
		bonusMax:    cfg.LoginBonusMax,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
	}, nil
}

// drawBonus 在 [bonusMin, bonusMax] 内均匀取值
func (s *EconomyService) drawBonus() int64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.bonusMin + s.rng.Int63n(s.bonusMax-s.bonusMin+1)
}

// Login 取出或创建账户，发放登录奖励，并把账户装入会话表（覆盖同名旧会话）
func (s *EconomyService) Login(ctx context.Context, owner, nickname string) (*LoginResult, error) {
	if nickname == "" {
		return nil, ErrEmptyNickname
	}

	unlock, err := s.loginLock.Acquire(ctx, nickname)
	if err != nil {
		return nil, fmt.Errorf("获取登录锁失败: %w", err)
	}
	defer unlock()

	bonus := s.drawBonus()

	view, err := s.registry.Install(nickname, owner, func(prev *session.Account) (*session.Account, error) {
		account, err := s.loadOrCreate(ctx, nickname)
		if err != nil {
			return nil, err
		}

		newCredits := account.Credits + bonus
		if err := s.accountRepo.SetCredits(ctx, nil, account.ID, newCredits); err != nil {
			return nil, fmt.Errorf("发放登录奖励失败: %w", err)
		}

		if prev != nil {
			logger.Infof(ctx, "[Economy] 会话被新连接接管: nickname=%s", nickname)
		}

		return &session.Account{
			ID:       account.ID,
			Nickname: account.Nickname,
			Credits:  newCredits,
			Items:    account.Inventory(),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Infof(ctx, "[Economy] 玩家登录: nickname=%s, bonus=%d, credits=%d", nickname, bonus, view.Credits)
	s.publish(model.EventTypeLogin, nickname, "", bonus, view.Credits)

	return &LoginResult{
		Account:    view,
		LoginBonus: bonus,
		Catalog:    s.catalog.All(),
	}, nil
}

// loadOrCreate 并发首登时 Create 会撞唯一索引，此时回退到 Fetch
func (s *EconomyService) loadOrCreate(ctx context.Context, nickname string) (*model.Account, error) {
	account, err := s.accountRepo.Fetch(ctx, nickname)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, fmt.Errorf("查询账户失败: %w", err)
	}

	account, err = s.accountRepo.Create(ctx, nickname)
	if err == nil {
		logger.Infof(ctx, "[Economy] 创建新账户: nickname=%s, id=%d", nickname, account.ID)
		return account, nil
	}
	if !errors.Is(err, repository.ErrDuplicateAccount) {
		return nil, fmt.Errorf("创建账户失败: %w", err)
	}

	account, err = s.accountRepo.Fetch(ctx, nickname)
	if err != nil {
		return nil, fmt.Errorf("查询账户失败: %w", err)
	}
	return account, nil
}

// Logout 删除会话，幂等
func (s *EconomyService) Logout(ctx context.Context, nickname string) {
	if s.registry.Remove(nickname) {
		logger.Infof(ctx, "[Economy] 玩家退出: nickname=%s", nickname)
	}
}

// Release 连接断开时释放该连接持有的会话
func (s *EconomyService) Release(ctx context.Context, nickname, owner string) {
	if s.registry.Release(nickname, owner) {
		logger.Infof(ctx, "[Economy] 连接断开，释放会话: nickname=%s", nickname)
	}
}

// Items 商品目录，不需要登录
func (s *EconomyService) Items() map[string]model.Item {
	return s.catalog.All()
}

// AccountInfo 返回内存会话中的账户快照，不读库
func (s *EconomyService) AccountInfo(nickname string) (model.AccountView, error) {
	view, ok := s.registry.Snapshot(nickname)
	if !ok {
		return model.AccountView{}, ErrNotAuthorized
	}
	return view, nil
}

// Buy 买入一件商品
func (s *EconomyService) Buy(ctx context.Context, nickname, itemID string) (*TradeResult, error) {
	var item model.Item

	view, err := s.registry.Mutate(nickname, func(acc *session.Account) error {
		it, ok := s.catalog.Get(itemID)
		if !ok {
			return ErrUnknownItem
		}
		if acc.Credits < it.Price {
			return ErrInsufficientCredits
		}

		newCredits := acc.Credits - it.Price
		err := s.accountRepo.Transaction(ctx, func(tx *gorm.DB) error {
			if err := s.accountRepo.SetCredits(ctx, tx, acc.ID, newCredits); err != nil {
				return err
			}
			return s.accountRepo.IncrementItem(ctx, tx, acc.ID, itemID)
		})
		if err != nil {
			return fmt.Errorf("买入事务失败: %w", err)
		}

		acc.Credits = newCredits
		acc.Items[itemID]++
		item = it
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}

	logger.Infof(ctx, "[Economy] 买入: nickname=%s, item=%s, price=%d, credits=%d",
		nickname, itemID, item.Price, view.Credits)
	s.publish(model.EventTypeBuy, nickname, itemID, -item.Price, view.Credits)

	return &TradeResult{
		Message:    fmt.Sprintf("Item %s bought", item.Name),
		NewCredits: view.Credits,
		Items:      view.Items,
	}, nil
}

// Sell 以目录价格的一半卖出一件已持有的商品
func (s *EconomyService) Sell(ctx context.Context, nickname, itemID string) (*TradeResult, error) {
	var (
		item      model.Item
		salePrice int64
	)

	view, err := s.registry.Mutate(nickname, func(acc *session.Account) error {
		it, ok := s.catalog.Get(itemID)
		if !ok {
			return ErrUnknownItem
		}
		if acc.Items[itemID] <= 0 {
			return ErrItemNotOwned
		}

		price := it.SalePrice()
		newCredits := acc.Credits + price
		err := s.accountRepo.Transaction(ctx, func(tx *gorm.DB) error {
			if err := s.accountRepo.SetCredits(ctx, tx, acc.ID, newCredits); err != nil {
				return err
			}
			return s.accountRepo.DecrementItem(ctx, tx, acc.ID, itemID)
		})
		if errors.Is(err, repository.ErrItemNotOwned) {
			logger.Warnf(ctx, "[Economy] 会话与库存不一致: nickname=%s, item=%s", nickname, itemID)
			return ErrItemNotOwned
		}
		if err != nil {
			return fmt.Errorf("卖出事务失败: %w", err)
		}

		acc.Credits = newCredits
		acc.Items[itemID]--
		if acc.Items[itemID] <= 0 {
			delete(acc.Items, itemID)
		}
		item, salePrice = it, price
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}

	logger.Infof(ctx, "[Economy] 卖出: nickname=%s, item=%s, price=%d, credits=%d",
		nickname, itemID, salePrice, view.Credits)
	s.publish(model.EventTypeSell, nickname, itemID, salePrice, view.Credits)

	return &TradeResult{
		Message:    fmt.Sprintf("Item %s sold for %d credits", item.Name, salePrice),
		NewCredits: view.Credits,
		Items:      view.Items,
	}, nil
}

func (s *EconomyService) publish(eventType, nickname, itemID string, amount, credits int64) {
	s.events.Publish(model.EconomyEvent{
		EventID:  s.ids.Generate(),
		Type:     eventType,
		Nickname: nickname,
		ItemID:   itemID,
		Amount:   amount,
		Credits:  credits,
		At:       s.now(),
	})
}

// ActiveSessions 在线昵称
func (s *EconomyService) ActiveSessions() []string {
	return s.registry.Nicknames()
}

// SessionCount 在线会话数
func (s *EconomyService) SessionCount() int {
	return s.registry.Len()
}

// StoredAccount 读取持久化的账户，管理接口使用
func (s *EconomyService) StoredAccount(ctx context.Context, nickname string) (*model.Account, error) {
	return s.accountRepo.Fetch(ctx, nickname)
}

type nopPublisher struct{}

func (nopPublisher) Publish(model.EconomyEvent) {}
