package speech

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectionManager 按会话记录上游 WebSocket 连接，同一会话只保留最新的一条。
type ConnectionManager struct {
	connections map[string]*websocket.Conn
	mu          sync.RWMutex
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*websocket.Conn),
	}
}

// AddConnection 添加连接，已存在的旧连接会被关闭
func (cm *ConnectionManager) AddConnection(sessionID string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if oldConn, exists := cm.connections[sessionID]; exists && oldConn != nil && oldConn != conn {
		oldConn.Close()
	}

	cm.connections[sessionID] = conn
}

// GetConnection 获取连接
func (cm *ConnectionManager) GetConnection(sessionID string) (*websocket.Conn, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conn, exists := cm.connections[sessionID]
	return conn, exists
}

// Count 返回当前登记的连接数
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// RemoveConnection 仅当登记的仍是 conn 时移除并关闭它
func (cm *ConnectionManager) RemoveConnection(sessionID string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	current, exists := cm.connections[sessionID]
	if !exists || current != conn {
		return
	}
	if current != nil {
		current.Close()
	}
	delete(cm.connections, sessionID)
}

// CloseAll 关闭所有连接
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for sessionID, conn := range cm.connections {
		if conn != nil {
			conn.Close()
		}
		delete(cm.connections, sessionID)
	}
}

// ConnectionPoolOptions 连接池配置选项
type ConnectionPoolOptions struct {
	MaxConnections    int           // 最大连接数
	ConnectionTimeout time.Duration // 连接超时时间
	ReadTimeout       time.Duration // 读取超时时间
	WriteTimeout      time.Duration // 写入超时时间
	PingInterval      time.Duration // Ping间隔
	MaxRetries        int           // 最大重试次数
	RetryBackoff      time.Duration // 第 n 次重试前等待 n*RetryBackoff
}

// DefaultConnectionPoolOptions 默认连接池选项
func DefaultConnectionPoolOptions() *ConnectionPoolOptions {
	return &ConnectionPoolOptions{
		MaxConnections:    100,
		ConnectionTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      30 * time.Second,
		PingInterval:      30 * time.Second,
		MaxRetries:        3,
		RetryBackoff:      time.Second,
	}
}

// ConnectionPool 负责拨号、重试、心跳以及连接登记
type ConnectionPool struct {
	manager *ConnectionManager
	options *ConnectionPoolOptions
}

// NewConnectionPool 创建连接池
func NewConnectionPool(options *ConnectionPoolOptions) *ConnectionPool {
	if options == nil {
		options = DefaultConnectionPoolOptions()
	}

	return &ConnectionPool{
		manager: NewConnectionManager(),
		options: options,
	}
}

// GetManager 获取连接管理器
func (cp *ConnectionPool) GetManager() *ConnectionManager {
	return cp.manager
}

// Options 返回连接池配置
func (cp *ConnectionPool) Options() ConnectionPoolOptions {
	return *cp.options
}

// ConnectWithRetry 带重试的连接建立。握手阶段被服务端拒绝（有 HTTP 响应）时不再重试。
func (cp *ConnectionPool) ConnectWithRetry(ctx context.Context, url string, header http.Header, sessionID string) (*websocket.Conn, *http.Response, error) {
	if cp.options.MaxConnections > 0 && cp.manager.Count() >= cp.options.MaxConnections {
		return nil, nil, fmt.Errorf("connection limit reached (%d)", cp.options.MaxConnections)
	}

	attempts := cp.options.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, resp, err := cp.connect(ctx, url, header, sessionID)
		if err == nil {
			return conn, resp, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if resp != nil {
			return nil, resp, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		if i == attempts-1 {
			break
		}

		retryDelay := time.Duration(i+1) * cp.options.RetryBackoff
		log.Printf("[speech] dial %s failed (attempt %d/%d), retry in %s: %v", url, i+1, attempts, retryDelay, err)
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return nil, nil, fmt.Errorf("failed to connect after %d attempts, last error: %w", attempts, lastErr)
}

// connect 建立单次连接
func (cp *ConnectionPool) connect(ctx context.Context, url string, header http.Header, sessionID string) (*websocket.Conn, *http.Response, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: cp.options.ConnectionTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, resp, fmt.Errorf("websocket dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(cp.options.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(cp.options.ReadTimeout))
		return nil
	})

	cp.manager.AddConnection(sessionID, conn)

	go cp.pingLoop(ctx, conn, sessionID)

	return conn, resp, nil
}

// Release 关闭并注销连接
func (cp *ConnectionPool) Release(sessionID string, conn *websocket.Conn) {
	cp.manager.RemoveConnection(sessionID, conn)
}

// ExtendRead 收到数据后顺延读超时
func (cp *ConnectionPool) ExtendRead(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(cp.options.ReadTimeout))
}

// pingLoop 定期发送ping。WriteControl 可与数据帧写入并发调用。
func (cp *ConnectionPool) pingLoop(ctx context.Context, conn *websocket.Conn, sessionID string) {
	if cp.options.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(cp.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(cp.options.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				cp.manager.RemoveConnection(sessionID, conn)
				return
			}
		}
	}
}

// Cleanup 清理连接池
func (cp *ConnectionPool) Cleanup() {
	cp.manager.CloseAll()
}

// ErrorHandler 上游连接错误回调
type ErrorHandler struct {
	onConnectionError func(sessionID string, err error)
	onMessageError    func(sessionID string, err error)
	onProtocolError   func(sessionID string, err error)
}

// NewErrorHandler 创建错误处理器，默认仅记录日志
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		onConnectionError: func(sessionID string, err error) {
			log.Printf("[speech] connection error for session %s: %v", sessionID, err)
		},
		onMessageError: func(sessionID string, err error) {
			log.Printf("[speech] message error for session %s: %v", sessionID, err)
		},
		onProtocolError: func(sessionID string, err error) {
			log.Printf("[speech] protocol error for session %s: %v", sessionID, err)
		},
	}
}

// SetConnectionErrorHandler 设置连接错误处理器
func (eh *ErrorHandler) SetConnectionErrorHandler(handler func(sessionID string, err error)) {
	eh.onConnectionError = handler
}

// SetMessageErrorHandler 设置消息错误处理器
func (eh *ErrorHandler) SetMessageErrorHandler(handler func(sessionID string, err error)) {
	eh.onMessageError = handler
}

// SetProtocolErrorHandler 设置协议错误处理器
func (eh *ErrorHandler) SetProtocolErrorHandler(handler func(sessionID string, err error)) {
	eh.onProtocolError = handler
}

// HandleConnectionError 处理连接错误
func (eh *ErrorHandler) HandleConnectionError(sessionID string, err error) {
	if eh != nil && eh.onConnectionError != nil {
		eh.onConnectionError(sessionID, err)
	}
}

// HandleMessageError 处理消息错误
func (eh *ErrorHandler) HandleMessageError(sessionID string, err error) {
	if eh != nil && eh.onMessageError != nil {
		eh.onMessageError(sessionID, err)
	}
}

// HandleProtocolError 处理协议错误
func (eh *ErrorHandler) HandleProtocolError(sessionID string, err error) {
	if eh != nil && eh.onProtocolError != nil {
		eh.onProtocolError(sessionID, err)
	}
}
