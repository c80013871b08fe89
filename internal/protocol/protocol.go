package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gameshop/internal/model"
)

// 帧格式：4 字节大端长度 + JSON 正文
const (
	headerSize     = 4
	MaxMessageSize = 1024 * 1024
)

const (
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionGetItems       = "get_items"
	ActionBuyItem        = "buy_item"
	ActionSellItem       = "sell_item"
	ActionGetAccountInfo = "get_account_info"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrInvalidJSON     = errors.New("invalid JSON")
)

// Request 客户端请求，action 之外的字段按需填写
type Request struct {
	Action   string `json:"action"`
	Nickname string `json:"nickname,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
}

// Response 服务端响应，除 status 外只输出当前 action 用到的字段
type Response struct {
	Status         string                `json:"status"`
	Message        string                `json:"message,omitempty"`
	Account        *model.AccountView    `json:"account,omitempty"`
	LoginBonus     *int64                `json:"login_bonus,omitempty"`
	AvailableItems map[string]model.Item `json:"available_items,omitempty"`
	Items          json.RawMessage       `json:"items,omitempty"`
	NewCredits     *int64                `json:"new_credits,omitempty"`
}

func Success() *Response {
	return &Response{Status: StatusSuccess}
}

func Error(message string) *Response {
	return &Response{Status: StatusError, Message: message}
}

// SetItems items 字段在 get_items 中是商品目录，在买卖中是持有物品
func (r *Response) SetItems(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.Items = data
	return nil
}

// DecodeItems 把 items 字段解析到 v
func (r *Response) DecodeItems(v interface{}) error {
	if len(r.Items) == 0 {
		return errors.New("response has no items")
	}
	return json.Unmarshal(r.Items, v)
}

// WriteFrame 写一帧
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("%w: size %d exceeds max size %d", ErrMessageTooLarge, len(payload), MaxMessageSize)
	}

	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(len(payload)))
	copy(buf[headerSize:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadFrame 读一帧；对端在帧边界关闭时返回 io.EOF
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%w: size %d exceeds max size %d", ErrMessageTooLarge, size, MaxMessageSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// DecodeRequest 解析一帧请求
func DecodeRequest(frame []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &req, nil
}

// WriteRequest 编码并写出一个请求，客户端和测试使用
func WriteRequest(w io.Writer, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

// WriteResponse 编码并写出一个响应
func WriteResponse(w io.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

// ReadResponse 读取并解析一个响应
func ReadResponse(r io.Reader) (*Response, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &resp, nil
}
