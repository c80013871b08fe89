package model

import (
	"time"
)

// Account 玩家账户表
// 记录玩家的昵称和信用点余额，昵称区分大小写且全局唯一
type Account struct {
	ID        int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	Nickname  string       `gorm:"type:varchar(64);uniqueIndex;not null" json:"nickname"`
	Credits   int64        `gorm:"not null;default:0" json:"credits"`
	LastLogin time.Time    `json:"last_login"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	Items     []PlayerItem `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Account) TableName() string {
	return "accounts"
}

// Inventory 物品ID -> 持有数量，数量为 0 的条目不会出现
type Inventory map[string]int64

// Inventory 把持有记录转换为 Inventory
func (a *Account) Inventory() Inventory {
	inv := make(Inventory, len(a.Items))
	for _, it := range a.Items {
		if it.Quantity > 0 {
			inv[it.ItemID] = it.Quantity
		}
	}
	return inv
}

// Clone 深拷贝
func (inv Inventory) Clone() Inventory {
	out := make(Inventory, len(inv))
	for k, v := range inv {
		out[k] = v
	}
	return out
}

// AccountView 返回给客户端的账户快照
type AccountView struct {
	Nickname string    `json:"nickname"`
	Credits  int64     `json:"credits"`
	Items    Inventory `json:"items"`
}
