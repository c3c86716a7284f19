package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/lofy-app/lofy/pkg/event"
	"github.com/lofy-app/lofy/pkg/expo"
	"github.com/lofy-app/lofy/pkg/middleware"
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はDBクエリ実行オブジェクト。
	queries *Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// queue はファンアウトジョブのディスパッチキュー。
	queue Queue
	// dispatcher はファンアウトを実行するワーカープール。
	dispatcher *Dispatcher
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースの初期化、キューとワーカープールの構築を行う。
func NewServer(port string) (*Server, error) {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "/data/lofy.db?_journal_mode=WAL&_busy_timeout=5000"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	queries := NewQueries(sqlDB)
	engine := NewEngine(queries, expo.New(os.Getenv("EXPO_PUSH_URL")))
	queue := newQueueFromEnv()

	workers := 3
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			workers = n
		}
	}

	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:19006"
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:     router,
		port:       port,
		queries:    queries,
		db:         sqlDB,
		queue:      queue,
		dispatcher: NewDispatcher(workers, queue, engine),
	}
	s.setupRoutes()

	return s, nil
}

// newQueueFromEnv は環境変数に応じてキューのバックエンドを選択する。
// QUEUE_BACKEND=redis の場合のみRedisを使用し、それ以外はインメモリキュー。
func newQueueFromEnv() Queue {
	if os.Getenv("QUEUE_BACKEND") != "redis" {
		return NewMemoryQueue(1024)
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	return NewRedisQueue(addr, os.Getenv("REDIS_PASSWORD"), 0, "lofy:notification:jobs")
}

// Run はワーカープールとHTTPサーバーを起動する。
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.dispatcher.Start(ctx)
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得（ページ指定）
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		// デバイストークン登録
		api.POST("/devices", s.handleRegisterDevice())

		// ファンアウトのトリガー（内部API - コラボレータがコミット後に呼び出す）
		internal := api.Group("/internal")
		{
			internal.POST("/notify", s.handleNotify())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// UserID は通知先のユーザーID。
	UserID int64 `json:"user_id"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// IsRead は通知の既読状態。
	IsRead bool `json:"is_read"`
	// PostID は関連する投稿のID。投稿に紐付かない通知ではnull。
	PostID *int64 `json:"post_id"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toNotificationResponse はDB行をJSONレスポンスに変換する。
func toNotificationResponse(n Notification) notificationResponse {
	resp := notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		IsRead:    n.IsRead != 0,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
	if n.PostID.Valid {
		postID := n.PostID.Int64
		resp.PostID = &postID
	}
	return resp
}

// toNotificationResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(notifications []Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	return responses
}

// handleList は認証済みユーザーの通知一覧をページ指定で返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil || page < 1 {
			page = 1
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
		if err != nil || limit < 1 || limit > 20 {
			limit = 10
		}

		notifications, err := s.queries.ListNotificationsByUserID(c.Request.Context(), userID, limit, (page-1)*limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.queries.ListUnreadNotifications(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			log.Printf("未読通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID := c.Param("id")
		if notificationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが必要です"})
			return
		}

		// 通知の存在確認と所有者チェック
		n, err := s.queries.GetNotificationByID(c.Request.Context(), notificationID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			log.Printf("通知取得エラー: %v", err)
			return
		}

		if n.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		}

		if err := s.queries.MarkAsRead(c.Request.Context(), notificationID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			log.Printf("通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if err := s.queries.MarkAllAsRead(c.Request.Context(), userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			log.Printf("全通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました"})
	}
}

// registerDeviceRequest はデバイストークン登録リクエストのJSON構造。
type registerDeviceRequest struct {
	// DevicePushToken はプッシュ通知用のデバイストークン。
	DevicePushToken string `json:"device_push_token" binding:"required"`
	// Platform はプラットフォーム（'ios' / 'android'）。
	Platform string `json:"platform"`
}

// handleRegisterDevice はデバイストークンを登録するハンドラ。
// 登録済みトークンの再登録では所有者と最終アクセス日時を更新する。
func (s *Server) handleRegisterDevice() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req registerDeviceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.queries.UpsertDevice(c.Request.Context(), userID, req.DevicePushToken, req.Platform); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "デバイストークンの登録に失敗しました"})
			log.Printf("デバイストークン登録エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": "デバイストークンを登録しました"})
	}
}

// handleNotify はイベントを受け取り、ファンアウトジョブをキューに積むハンドラ。
// ジョブの実行を待たずに202を返す。トリガー元のリクエストは
// ファンアウトの結果を観測できない。
func (s *Server) handleNotify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var d event.Descriptor
		if err := c.ShouldBindJSON(&d); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		job, err := event.NewJob(d)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := s.queue.Enqueue(c.Request.Context(), job); err != nil {
			if errors.Is(err, ErrQueueFull) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "通知システムが混雑しています。しばらくしてから再試行してください"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ジョブの投入に失敗しました"})
			log.Printf("ジョブ投入エラー: %v", err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"job_id":  job.ID,
			"message": "通知ジョブを受け付けました",
		})
	}
}
