package model

// Item 商品目录条目，进程启动后不可变
type Item struct {
	ID    string `json:"-"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// SalePrice 出售价格为目录价格的一半（向下取整）
func (i Item) SalePrice() int64 {
	return i.Price / 2
}

// Catalog 商品目录
type Catalog struct {
	items map[string]Item
}

func NewCatalog(items ...Item) *Catalog {
	c := &Catalog{items: make(map[string]Item, len(items))}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

// DefaultCatalog 默认的十种商品
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Item{ID: "sword", Name: "Sword", Price: 150},
		Item{ID: "shield", Name: "Shield", Price: 120},
		Item{ID: "armor", Name: "Armor", Price: 300},
		Item{ID: "bow", Name: "Bow", Price: 200},
		Item{ID: "potion", Name: "Health Potion", Price: 50},
		Item{ID: "ship", Name: "Ship", Price: 1000},
		Item{ID: "cannon", Name: "Cannon", Price: 400},
		Item{ID: "treasure_map", Name: "Treasure Map", Price: 250},
		Item{ID: "compass", Name: "Compass", Price: 80},
		Item{ID: "rope", Name: "Rope", Price: 30},
	)
}

func (c *Catalog) Get(id string) (Item, bool) {
	it, ok := c.items[id]
	return it, ok
}

// All 返回目录副本
func (c *Catalog) All() map[string]Item {
	out := make(map[string]Item, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.items)
}
