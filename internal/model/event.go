package model

import (
	"time"
)

// 经济事件类型
const (
	EventTypeLogin = "LOGIN"
	EventTypeBuy   = "BUY"
	EventTypeSell  = "SELL"
)

// EconomyEvent 登录奖励、买入、卖出成功后对外发布的通知
// 本服务不落库，只投递到消息队列
type EconomyEvent struct {
	EventID  int64     `json:"event_id"`
	Type     string    `json:"type"`
	Nickname string    `json:"nickname"`
	ItemID   string    `json:"item_id,omitempty"`
	Amount   int64     `json:"amount"`  // 余额变化，正数入账，负数出账
	Credits  int64     `json:"credits"` // 变化后的余额
	At       time.Time `json:"at"`
}
