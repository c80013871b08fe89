package job

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"gameshop/internal/model"
	"gameshop/internal/pkg/logger"
)

// MessageSender 消息队列生产者
type MessageSender interface {
	SendMessage(topic, key string, value []byte) error
}

// EventSender 异步投递经济事件
// Publish 只往缓冲通道里放，不阻塞业务请求；缓冲满了直接丢弃并记日志
type EventSender struct {
	sender        MessageSender
	topic         string
	events        chan model.EconomyEvent
	maxRetryCount int
	retryInterval time.Duration
	done          chan struct{}
}

func NewEventSender(sender MessageSender, topic string, buffer, maxRetryCount int) *EventSender {
	if buffer < 1 {
		buffer = 1
	}
	if maxRetryCount < 1 {
		maxRetryCount = 1
	}
	return &EventSender{
		sender:        sender,
		topic:         topic,
		events:        make(chan model.EconomyEvent, buffer),
		maxRetryCount: maxRetryCount,
		retryInterval: 200 * time.Millisecond,
		done:          make(chan struct{}),
	}
}

// Publish 投递事件
func (s *EventSender) Publish(event model.EconomyEvent) {
	select {
	case s.events <- event:
	default:
		logger.Warnf(context.Background(), "[EventSender] 缓冲区已满，丢弃事件: id=%d, type=%s, nickname=%s",
			event.EventID, event.Type, event.Nickname)
	}
}

// Start 消费缓冲通道直到 ctx 取消，退出前把已缓冲的事件发完
func (s *EventSender) Start(ctx context.Context) {
	defer close(s.done)
	logger.Infof(ctx, "[EventSender] 事件发送任务启动, topic=%s", s.topic)

	for {
		select {
		case <-ctx.Done():
			s.drain()
			logger.Infof(context.Background(), "[EventSender] 收到停止信号，任务退出")
			return
		case event := <-s.events:
			s.send(ctx, event)
		}
	}
}

// Done 在 Start 返回后关闭
func (s *EventSender) Done() <-chan struct{} {
	return s.done
}

func (s *EventSender) drain() {
	for {
		select {
		case event := <-s.events:
			s.send(context.Background(), event)
		default:
			return
		}
	}
}

func (s *EventSender) send(ctx context.Context, event model.EconomyEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Errorf(ctx, "[EventSender] 序列化事件失败: id=%d, err=%v", event.EventID, err)
		return
	}

	key := event.Nickname
	if key == "" {
		key = strconv.FormatInt(event.EventID, 10)
	}

	for attempt := 1; attempt <= s.maxRetryCount; attempt++ {
		err = s.sender.SendMessage(s.topic, key, payload)
		if err == nil {
			logger.Debugf(ctx, "[EventSender] 事件发送成功: id=%d, type=%s", event.EventID, event.Type)
			return
		}

		logger.Warnf(ctx, "[EventSender] 事件发送失败: id=%d, attempt=%d, err=%v", event.EventID, attempt, err)
		if attempt == s.maxRetryCount {
			break
		}

		select {
		case <-ctx.Done():
			// 停机阶段不再等待，直接用剩余次数重试
		case <-time.After(s.retryInterval):
		}
	}

	logger.Errorf(ctx, "[EventSender] 事件超过最大重试次数，放弃: id=%d", event.EventID)
}
