package server

import (
	"context"
	"fmt"

	"gameshop/internal/model"
	"gameshop/internal/pkg/logger"
	"gameshop/internal/protocol"
	"gameshop/internal/service"
)

const internalErrorMessage = "internal error"

// Economy 路由依赖的业务接口，由 service.EconomyService 实现
type Economy interface {
	Login(ctx context.Context, owner, nickname string) (*service.LoginResult, error)
	Logout(ctx context.Context, nickname string)
	Release(ctx context.Context, nickname, owner string)
	Items() map[string]model.Item
	AccountInfo(nickname string) (model.AccountView, error)
	Buy(ctx context.Context, nickname, itemID string) (*service.TradeResult, error)
	Sell(ctx context.Context, nickname, itemID string) (*service.TradeResult, error)
}

// Router 按 action 分发请求
type Router struct {
	economy Economy
}

func NewRouter(economy Economy) *Router {
	return &Router{economy: economy}
}

// handle 处理一个请求
// 返回的 error 非 nil 表示基础设施错误，调用方写出响应后应关闭连接
func (r *Router) handle(ctx context.Context, cs *connState, req *protocol.Request) (*protocol.Response, error) {
	switch req.Action {
	case protocol.ActionLogin:
		return r.login(ctx, cs, req)
	case protocol.ActionLogout:
		return r.logout(ctx, cs, req)
	case protocol.ActionGetItems:
		return r.getItems()
	case protocol.ActionBuyItem:
		res, err := r.economy.Buy(ctx, req.Nickname, req.ItemID)
		return r.trade(ctx, res, err)
	case protocol.ActionSellItem:
		res, err := r.economy.Sell(ctx, req.Nickname, req.ItemID)
		return r.trade(ctx, res, err)
	case protocol.ActionGetAccountInfo:
		return r.accountInfo(ctx, req)
	default:
		return protocol.Error(fmt.Sprintf("unknown action: %s", req.Action)), nil
	}
}

func (r *Router) login(ctx context.Context, cs *connState, req *protocol.Request) (*protocol.Response, error) {
	res, err := r.economy.Login(ctx, cs.id, req.Nickname)
	if err != nil {
		return failure(ctx, err)
	}
	cs.own(req.Nickname)

	resp := protocol.Success()
	resp.Account = &res.Account
	resp.LoginBonus = &res.LoginBonus
	resp.AvailableItems = res.Catalog
	return resp, nil
}

func (r *Router) logout(ctx context.Context, cs *connState, req *protocol.Request) (*protocol.Response, error) {
	r.economy.Logout(ctx, req.Nickname)
	cs.disown(req.Nickname)

	resp := protocol.Success()
	resp.Message = "Logged out"
	return resp, nil
}

func (r *Router) getItems() (*protocol.Response, error) {
	resp := protocol.Success()
	if err := resp.SetItems(r.economy.Items()); err != nil {
		return protocol.Error(internalErrorMessage), err
	}
	return resp, nil
}

func (r *Router) accountInfo(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	view, err := r.economy.AccountInfo(req.Nickname)
	if err != nil {
		return failure(ctx, err)
	}

	resp := protocol.Success()
	resp.Account = &view
	return resp, nil
}

func (r *Router) trade(ctx context.Context, res *service.TradeResult, err error) (*protocol.Response, error) {
	if err != nil {
		return failure(ctx, err)
	}

	resp := protocol.Success()
	resp.Message = res.Message
	resp.NewCredits = &res.NewCredits
	if err := resp.SetItems(res.Items); err != nil {
		return protocol.Error(internalErrorMessage), err
	}
	return resp, nil
}

// failure 业务错误原样返回给客户端，其余错误只返回 internal error
func failure(ctx context.Context, err error) (*protocol.Response, error) {
	if service.IsDomainError(err) {
		return protocol.Error(err.Error()), nil
	}
	logger.Errorf(ctx, "[Router] 请求处理失败: %v", err)
	return protocol.Error(internalErrorMessage), err
}
