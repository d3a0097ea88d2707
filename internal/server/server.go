package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mhutchison/packrat/internal/backup"
	"github.com/mhutchison/packrat/internal/cache"
	"github.com/mhutchison/packrat/internal/config"
	"github.com/mhutchison/packrat/internal/conflict"
	"github.com/mhutchison/packrat/internal/disposal"
	"github.com/mhutchison/packrat/internal/handler"
	"github.com/mhutchison/packrat/internal/middleware"
	"github.com/mhutchison/packrat/internal/model"
	"github.com/mhutchison/packrat/internal/push"
	"github.com/mhutchison/packrat/internal/registry"
	"github.com/mhutchison/packrat/internal/store"
	"github.com/mhutchison/packrat/internal/syncer"
	ws "github.com/mhutchison/packrat/internal/websocket"
)

// Server wires the sync core, stores and handlers together and owns the
// HTTP router. Background components (push scheduler, backup manager) are
// started by the caller via their accessors.
type Server struct {
	db  *sql.DB
	hub *ws.Hub

	registry *registry.Registry
	resolver *conflict.Resolver
	syncer   *syncer.Syncer
	disposal *disposal.Manager

	roleH     *handler.RoleHandler
	syncH     *handler.SyncHandler
	disposalH *handler.DisposalHandler
	pushH     *handler.PushHandler
	pinH      *handler.PinHandler

	pushScheduler *push.Scheduler
	backupManager *backup.Manager
	rateLimiter   *middleware.RateLimiter
	permCache     cache.Cache
	logger        *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, transport syncer.Transport, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	grantStore := store.NewGrantStore(db)
	pendingStore := store.NewPendingStore(db)
	trashStore := store.NewTrashStore(db)
	pushStore := store.NewPushStore(db)
	pinStore := store.NewPinStore(db)

	permCache := newPermissionCache(cfg.Cache, logger.With("component", "cache"))
	reg := registry.New(grantStore, permCache, cfg.Cache.TTL, logger.With("component", "registry"))

	resolver := conflict.NewResolver(pendingStore, logger.With("component", "conflict"))
	resolver.SetListener(func(c model.Conflict) {
		hub.Broadcast(ws.Event{Type: ws.EventConflict, Payload: c})
	})

	sync := syncer.New(syncer.Config{
		DeviceID:    cfg.DeviceID,
		DeviceName:  cfg.DeviceName,
		Debounce:    cfg.Sync.Debounce,
		MaxPending:  cfg.Sync.MaxPending,
		MaxRetries:  cfg.Sync.MaxRetries,
		RetryBase:   cfg.Sync.RetryBase,
		SendTimeout: cfg.Sync.SendTimeout,
	}, reg, pendingStore, resolver, transport, logger.With("component", "syncer"))
	sync.Subscribe(func(st syncer.Status) {
		hub.Broadcast(ws.Event{Type: ws.EventSyncStatus, Payload: st})
	})

	disposalMgr := disposal.NewManager(reg, trashStore, logger.With("component", "disposal"))

	backupMgr := backup.NewManager(backup.Config{
		Endpoint:  cfg.Backup.S3Endpoint,
		Bucket:    cfg.Backup.S3Bucket,
		Region:    cfg.Backup.S3Region,
		AccessKey: cfg.Backup.S3AccessKey,
		SecretKey: cfg.Backup.S3SecretKey,
		DBPath:    cfg.DBPath,
		Interval:  cfg.Backup.Interval,
	}, db, func(st backup.Status) {
		hub.Broadcast(ws.Event{Type: "backup_status", Payload: st})
	}, logger.With("component", "backup"))

	var pushSvc *push.Service
	var pushSched *push.Scheduler
	var pushH *handler.PushHandler
	if cfg.Push.VAPIDPublicKey != "" && cfg.Push.VAPIDPrivateKey != "" {
		pushLogger := logger.With("component", "push")
		pushSvc = push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subscriber)
		pushSched = push.NewScheduler(pushSvc, pushStore, trashStore, pushLogger)
		pushH = handler.NewPushHandler(pushSvc, pushStore, pushLogger)
	}

	return &Server{
		db:            db,
		hub:           hub,
		registry:      reg,
		resolver:      resolver,
		syncer:        sync,
		disposal:      disposalMgr,
		roleH:         handler.NewRoleHandler(reg, logger.With("component", "roles")),
		syncH:         handler.NewSyncHandler(sync, resolver, hub, logger.With("component", "sync")),
		disposalH:     handler.NewDisposalHandler(disposalMgr, hub, logger.With("component", "disposal_handler")),
		pushH:         pushH,
		pinH:          handler.NewPinHandler(pinStore, logger.With("component", "pin")),
		pushScheduler: pushSched,
		backupManager: backupMgr,
		rateLimiter:   middleware.NewRateLimiter(),
		permCache:     permCache,
		logger:        logger,
	}
}

func newPermissionCache(cfg config.CacheConfig, logger *slog.Logger) cache.Cache {
	if cfg.Type == "redis" {
		c, err := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			return c
		}
		logger.Warn("redis unavailable, falling back to memory cache", "error", err)
	}
	return cache.NewMemory()
}

// Registry returns the role registry, mainly for bootstrap at startup.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Syncer returns the batch scheduler for shutdown.
func (s *Server) Syncer() *syncer.Syncer {
	return s.syncer
}

// PushScheduler returns the reminder notifier, nil when push is disabled.
func (s *Server) PushScheduler() *push.Scheduler {
	return s.pushScheduler
}

// BackupManager returns the snapshot uploader.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// RateLimiter returns the limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Close releases the permission cache.
func (s *Server) Close() {
	if c, ok := s.permCache.(interface{ Close() error }); ok {
		c.Close()
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Role and permission API
	mux.HandleFunc("POST /api/roles/grant", s.roleH.Grant)
	mux.HandleFunc("POST /api/roles/revoke", s.roleH.Revoke)
	mux.HandleFunc("POST /api/roles/ban", s.roleH.Ban)
	mux.HandleFunc("POST /api/roles/unban", s.roleH.Unban)
	mux.HandleFunc("GET /api/permissions/check", s.roleH.CheckPermission)
	mux.HandleFunc("GET /api/warehouses/{warehouse_id}/users", s.roleH.WarehouseUsers)
	mux.HandleFunc("GET /api/users", s.roleH.AllUsers)

	// Sync API
	mux.HandleFunc("POST /api/sync/changes", s.syncH.AddChange)
	mux.HandleFunc("POST /api/sync/force", s.syncH.ForceSend)
	mux.HandleFunc("GET /api/sync/status", s.syncH.Status)
	mux.HandleFunc("POST /api/sync/resync", s.syncH.Resync)
	mux.HandleFunc("DELETE /api/sync/pending", s.syncH.ClearPending)
	mux.HandleFunc("GET /api/sync/failed", s.syncH.FailedBatches)
	mux.HandleFunc("POST /api/sync/inbound", s.syncH.Inbound)
	mux.HandleFunc("GET /api/conflicts", s.syncH.Conflicts)
	mux.HandleFunc("POST /api/conflicts/resolve", s.syncH.ResolveConflicts)

	// Trash lifecycle API
	mux.HandleFunc("POST /api/trash", s.disposalH.Dispose)
	mux.HandleFunc("GET /api/trash", s.disposalH.Trash)
	mux.HandleFunc("POST /api/trash/{id}/restore", s.disposalH.Restore)
	mux.HandleFunc("POST /api/trash/{id}/disposed", s.disposalH.MarkDisposed)
	mux.HandleFunc("GET /api/disposal-log", s.disposalH.Log)
	mux.HandleFunc("GET /api/reminders", s.disposalH.Reminders)
	mux.HandleFunc("POST /api/reminders/{id}/complete", s.disposalH.CompleteReminder)

	// PIN confirmation, rate limited against brute force
	mux.HandleFunc("POST /api/pin", s.pinH.Set)
	mux.HandleFunc("POST /api/pin/verify", s.rateLimitedHandler(s.pinH.Verify))

	// Push notification API
	if s.pushH != nil {
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)
	}

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))

	h := middleware.RequestLogger(s.logger.With("component", "http"))(mux)
	return middleware.RequestID(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
