package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"gameshop/internal/config"
	"gameshop/internal/pkg/logger"
	"gameshop/internal/protocol"
)

const busyMessage = "server is busy"

var ErrAddressInUse = errors.New("address already in use")

// Server 游戏 TCP 服务
type Server struct {
	cfg     *config.ServerConfig
	economy Economy
	router  *Router

	listener net.Listener
	slots    chan struct{}

	mu    sync.Mutex
	conns map[string]net.Conn
	wg    sync.WaitGroup

	closeOnce sync.Once
	closing   chan struct{}
}

func New(cfg *config.ServerConfig, economy Economy) *Server {
	maxConns := cfg.MaxConnections
	if maxConns < 1 {
		maxConns = 1
	}

	return &Server{
		cfg:     cfg,
		economy: economy,
		router:  NewRouter(economy),
		slots:   make(chan struct{}, maxConns),
		conns:   make(map[string]net.Conn),
		closing: make(chan struct{}),
	}
}

// Listen 绑定监听地址，端口被占用时返回 ErrAddressInUse
func (s *Server) Listen() error {
	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s", ErrAddressInUse, addr)
		}
		return fmt.Errorf("监听 %s 失败: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Addr 实际监听的地址，端口配置为 0 时用于获取系统分配的端口
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve 接受连接直到 ctx 取消或 Shutdown 被调用
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	logger.Infof(ctx, "[Server] 游戏服务启动，监听地址: %s", s.listener.Addr())

	go func() {
		select {
		case <-ctx.Done():
			s.closeListener()
		case <-s.closing:
		}
	}()

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosing() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			logger.Warnf(ctx, "[Server] Accept 失败: %v，%v 后重试", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		select {
		case s.slots <- struct{}{}:
		default:
			s.rejectAsync(ctx, conn)
			continue
		}

		cs := newConnState()
		if !s.track(cs.id, conn) {
			<-s.slots
			_ = conn.Close()
			return nil
		}

		go func() {
			defer func() {
				<-s.slots
				s.untrack(cs.id)
			}()
			s.serveConn(ctx, conn, cs)
		}()
	}
}

// rejectAsync 慢客户端不能拖住 Accept
func (s *Server) rejectAsync(ctx context.Context, conn net.Conn) {
	go s.reject(ctx, conn)
}

// reject 连接数已满，回一条错误后关闭
func (s *Server) reject(ctx context.Context, conn net.Conn) {
	logger.Warnf(ctx, "[Server] 连接数已达上限 %d，拒绝 %s", cap(s.slots), conn.RemoteAddr())
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = protocol.WriteResponse(conn, protocol.Error(busyMessage))
	_ = conn.Close()
}

func (s *Server) track(id string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosing() {
		return false
	}
	s.conns[id] = conn
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *Server) closeListener() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closing)
		s.mu.Unlock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

// ActiveConnections 当前连接数
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown 关闭监听和所有连接，等待连接处理结束
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeListener()

	s.mu.Lock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Infof(ctx, "[Server] 游戏服务已停止")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
