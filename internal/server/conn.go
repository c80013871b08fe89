package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"gameshop/internal/pkg/logger"
	"gameshop/internal/protocol"

	"github.com/google/uuid"
)

const writeWait = 10 * time.Second

// connState 一个连接上登录过、且尚未退出的昵称
type connState struct {
	id string

	mu    sync.Mutex
	owned map[string]struct{}
}

func newConnState() *connState {
	return &connState{
		id:    uuid.New().String(),
		owned: make(map[string]struct{}),
	}
}

func (cs *connState) own(nickname string) {
	cs.mu.Lock()
	cs.owned[nickname] = struct{}{}
	cs.mu.Unlock()
}

func (cs *connState) disown(nickname string) {
	cs.mu.Lock()
	delete(cs.owned, nickname)
	cs.mu.Unlock()
}

func (cs *connState) nicknames() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]string, 0, len(cs.owned))
	for name := range cs.owned {
		out = append(out, name)
	}
	return out
}

// serveConn 连接主循环：读一帧、处理、写一帧，严格按顺序
func (s *Server) serveConn(ctx context.Context, conn net.Conn, cs *connState) {
	ctx = logger.With(ctx, "conn_id", cs.id, "remote", conn.RemoteAddr().String())
	logger.Infof(ctx, "[Server] 新连接")

	defer func() {
		s.cleanup(ctx, cs)
		_ = conn.Close()
		logger.Infof(ctx, "[Server] 连接关闭")
	}()

	for {
		if idle := s.cfg.IdleTimeout(); idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}

		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			logReadError(ctx, err)
			return
		}

		resp, fatal := s.dispatch(ctx, cs, frame)

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := protocol.WriteResponse(conn, resp); err != nil {
			logger.Warnf(ctx, "[Server] 写响应失败: %v", err)
			return
		}

		if fatal != nil {
			logger.Warnf(ctx, "[Server] 基础设施错误，关闭连接: %v", fatal)
			return
		}
	}
}

// dispatch 解码并处理一帧请求，每个请求有独立的超时
func (s *Server) dispatch(ctx context.Context, cs *connState, frame []byte) (*protocol.Response, error) {
	req, err := protocol.DecodeRequest(frame)
	if err != nil {
		logger.Debugf(ctx, "[Server] 无法解析请求: %v", err)
		return protocol.Error(protocol.ErrInvalidJSON.Error()), nil
	}

	reqCtx := logger.With(ctx, "action", req.Action)
	if timeout := s.cfg.RequestTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, timeout)
		defer cancel()
	}

	return s.router.handle(reqCtx, cs, req)
}

// cleanup 相当于对本连接登录的每个昵称隐式 logout；已被其他连接接管的会话不受影响
func (s *Server) cleanup(ctx context.Context, cs *connState) {
	for _, nickname := range cs.nicknames() {
		s.economy.Release(ctx, nickname, cs.id)
	}
}

func logReadError(ctx context.Context, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debugf(ctx, "[Server] 对端关闭连接")
	case errors.Is(err, net.ErrClosed):
		logger.Debugf(ctx, "[Server] 连接已被关闭")
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Infof(ctx, "[Server] 连接空闲超时")
	case errors.Is(err, protocol.ErrMessageTooLarge):
		logger.Warnf(ctx, "[Server] 消息过大: %v", err)
	default:
		logger.Warnf(ctx, "[Server] 读取失败: %v", err)
	}
}
