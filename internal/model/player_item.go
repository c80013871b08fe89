package model

// PlayerItem 玩家持有物品表
// 每个 (account_id, item_id) 只有一行，数量减到 0 时删除该行
type PlayerItem struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64  `gorm:"uniqueIndex:idx_account_item;not null" json:"account_id"`
	ItemID    string `gorm:"type:varchar(64);uniqueIndex:idx_account_item;not null" json:"item_id"`
	Quantity  int64  `gorm:"not null;default:1" json:"quantity"`
}

func (PlayerItem) TableName() string {
	return "player_items"
}
