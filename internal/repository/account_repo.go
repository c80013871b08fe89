package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gameshop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrDuplicateAccount = errors.New("account already exists")
	ErrItemNotOwned     = errors.New("item not owned")
	ErrNegativeCredits  = errors.New("credits must not be negative")
)

// AccountRepository 账户与持有物品的持久化
// 带 tx 参数的方法可以参与调用方的事务，tx 为 nil 时直接使用 r.db
type AccountRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db, now: time.Now}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// Transaction 在一个事务里执行 fn，fn 返回错误则回滚
func (r *AccountRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// Fetch 按昵称查询账户及其持有物品
func (r *AccountRepository) Fetch(ctx context.Context, nickname string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("nickname = ?", nickname).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Create 新建零余额账户，昵称已存在时返回 ErrDuplicateAccount
func (r *AccountRepository) Create(ctx context.Context, nickname string) (*model.Account, error) {
	account := &model.Account{
		Nickname:  nickname,
		Credits:   0,
		LastLogin: r.now(),
	}

	if err := r.db.WithContext(ctx).Omit("Items").Create(account).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicateAccount
		}
		return nil, err
	}

	account.Items = []model.PlayerItem{}
	return account, nil
}

// SetCredits 覆盖余额并刷新最后登录时间
func (r *AccountRepository) SetCredits(ctx context.Context, tx *gorm.DB, accountID int64, credits int64) error {
	if credits < 0 {
		return ErrNegativeCredits
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"credits":    credits,
			"last_login": r.now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// IncrementItem 持有数量 +1，没有记录时新建
func (r *AccountRepository) IncrementItem(ctx context.Context, tx *gorm.DB, accountID int64, itemID string) error {
	item := &model.PlayerItem{
		AccountID: accountID,
		ItemID:    itemID,
		Quantity:  1,
	}

	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}, {Name: "item_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"quantity": gorm.Expr("quantity + ?", 1),
			}),
		}).
		Create(item).Error
}

// DecrementItem 持有数量 -1，减到 0 时删除记录；未持有时返回 ErrItemNotOwned
func (r *AccountRepository) DecrementItem(ctx context.Context, tx *gorm.DB, accountID int64, itemID string) error {
	db := r.conn(tx).WithContext(ctx)

	var item model.PlayerItem
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND item_id = ?", accountID, itemID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotOwned
		}
		return err
	}

	if item.Quantity > 1 {
		return db.Model(&model.PlayerItem{}).
			Where("id = ?", item.ID).
			UpdateColumn("quantity", gorm.Expr("quantity - ?", 1)).Error
	}

	if err := db.Delete(&model.PlayerItem{}, item.ID).Error; err != nil {
		return fmt.Errorf("删除持有记录失败: %w", err)
	}
	return nil
}

// isDuplicateKey 兼容未翻译的驱动错误
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "duplicate entry")
}
