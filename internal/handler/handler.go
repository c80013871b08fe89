package handler

import (
	"context"
	"errors"
	"sort"

	"gameshop/internal/model"
	"gameshop/internal/pkg/logger"
	"gameshop/internal/repository"
	"gameshop/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminService 管理接口依赖的只读查询，由 service.EconomyService 实现
type AdminService interface {
	Items() map[string]model.Item
	ActiveSessions() []string
	SessionCount() int
	StoredAccount(ctx context.Context, nickname string) (*model.Account, error)
}

// ConnectionCounter 游戏服务当前连接数
type ConnectionCounter interface {
	ActiveConnections() int
}

// Handler 管理接口处理器
type Handler struct {
	admin AdminService
	conns ConnectionCounter
}

func NewHandler(admin AdminService, conns ConnectionCounter) *Handler {
	return &Handler{admin: admin, conns: conns}
}

// itemEntry 商品目录中的一项，按 id 排序输出
type itemEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// Health 健康检查
// GET /health
func (h *Handler) Health(c *gin.Context) {
	data := gin.H{
		"status":   "ok",
		"sessions": h.admin.SessionCount(),
	}
	if h.conns != nil {
		data["connections"] = h.conns.ActiveConnections()
	}
	response.Success(c, data)
}

// ListItems 商品目录
// GET /api/v1/items
func (h *Handler) ListItems(c *gin.Context) {
	catalog := h.admin.Items()

	list := make([]itemEntry, 0, len(catalog))
	for id, it := range catalog {
		list = append(list, itemEntry{ID: id, Name: it.Name, Price: it.Price})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	response.Success(c, gin.H{
		"list":  list,
		"total": len(list),
	})
}

// ListSessions 在线昵称
// GET /api/v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	names := h.admin.ActiveSessions()
	response.Success(c, gin.H{
		"list":  names,
		"total": len(names),
	})
}

// GetAccount 查询持久化的账户
// GET /api/v1/accounts/:nickname
func (h *Handler) GetAccount(c *gin.Context) {
	nickname := c.Param("nickname")
	if nickname == "" {
		response.ParamError(c, "nickname 参数不能为空")
		return
	}

	account, err := h.admin.StoredAccount(c.Request.Context(), nickname)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			response.NotFound(c, response.CodeAccountNotFound, "account not found")
			return
		}
		logger.Errorf(c.Request.Context(), "[Admin] 查询账户失败: nickname=%s, err=%v", nickname, err)
		response.ServerError(c, "internal error")
		return
	}

	response.Success(c, gin.H{
		"id":         account.ID,
		"nickname":   account.Nickname,
		"credits":    account.Credits,
		"items":      account.Inventory(),
		"last_login": account.LastLogin,
		"created_at": account.CreatedAt,
	})
}
