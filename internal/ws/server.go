package ws

import (
	"net/http"
	"sync"
	"time"

	"flowdeck/internal/db/cache"
	"flowdeck/internal/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		/* 浏览器连接已由 CORS 中间件验证 Origin，此处统一放行 */
		return true
	},
}

/*
Event 管理端事件
功能：推送给运维前端的弹性事件（熔断器状态迁移、会话强制失效）
*/
type Event struct {
	Type   string    `json:"type"` /* breaker_transition / session_revoked */
	Key    string    `json:"key,omitempty"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
	UserID string    `json:"user_id,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

/*
Server 管理端事件流服务器
功能：向已连接的管理端浏览器实时广播熔断器状态迁移与
会话失效事件。慢客户端直接断开，不阻塞广播循环。
*/
type Server struct {
	clients        map[*websocket.Conn]struct{}
	mu             sync.Mutex
	broadcast      chan Event
	maxConnections int
	stopChan       chan struct{}
	stopOnce       sync.Once
}

/*
NewServer 创建事件流服务器
maxConnections 为 0 时不限制连接数
*/
func NewServer(maxConnections int) *Server {
	return &Server{
		clients:        make(map[*websocket.Conn]struct{}),
		broadcast:      make(chan Event, 64),
		maxConnections: maxConnections,
		stopChan:       make(chan struct{}),
	}
}

/* Start 启动广播循环 */
func (s *Server) Start() {
	go s.run()
	logger.Info("✓ 管理端事件流已启动")
}

/* Stop 停止广播循环并断开所有客户端 */
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Server) run() {
	for {
		select {
		case event := <-s.broadcast:
			s.fanOut(event)
		case <-s.stopChan:
			s.mu.Lock()
			for conn := range s.clients {
				conn.Close()
			}
			s.clients = make(map[*websocket.Conn]struct{})
			s.mu.Unlock()
			return
		}
	}
}

/* fanOut 向所有客户端推送事件，写失败的客户端直接移除 */
func (s *Server) fanOut(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

/*
HandleWebSocket 管理端事件流接入点
功能：升级连接后注册到广播列表；读循环只用于感知断连，
收到的消息全部丢弃
*/
func (s *Server) HandleWebSocket(c *gin.Context) {
	s.mu.Lock()
	atCapacity := s.maxConnections > 0 && len(s.clients) >= s.maxConnections
	s.mu.Unlock()
	if atCapacity {
		logger.Warn("事件流连接数已达上限，拒绝新连接", zap.Int("max", s.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "服务器连接数已满"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("WebSocket 升级失败", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	logger.Debug("管理端事件流客户端接入", zap.Int("clients", count))

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

/* publish 非阻塞投递，队列满时丢弃（事件流是尽力而为的） */
func (s *Server) publish(event Event) {
	select {
	case s.broadcast <- event:
	default:
	}
}

/*
BroadcastBreakerTransition 广播熔断器状态迁移
*/
func (s *Server) BroadcastBreakerTransition(key, from, to string) {
	s.publish(Event{
		Type: "breaker_transition",
		Key:  key,
		From: from,
		To:   to,
		At:   time.Now(),
	})
}

/*
BroadcastRevocation 广播会话失效事件
*/
func (s *Server) BroadcastRevocation(event cache.RevocationEvent) {
	s.publish(Event{
		Type:   "session_revoked",
		Key:    event.SessionID,
		UserID: event.UserID,
		Reason: event.Reason,
		At:     event.At,
	})
}

/* ClientCount 当前连接的客户端数 */
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
