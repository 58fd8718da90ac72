package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/courier/dm-server/internal/messaging"
	"github.com/courier/dm-server/internal/metrics"
	"github.com/courier/dm-server/internal/presence"
	"github.com/courier/dm-server/internal/protocol"
	"github.com/courier/dm-server/internal/ratelimit"
	"github.com/courier/dm-server/internal/room"
	"github.com/courier/dm-server/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsConfig.Name = "courier-gateway"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	presenceStore := presence.NewStore(rdb)
	limiter := ratelimit.NewLimiter(rdb)
	hub := room.NewHub(natsClient)

	log.Printf("Courier delivery gateway starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)

	var server *ws.Server

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// join — enter the user's delivery room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoin, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinMsg)
		if !ok {
			return
		}
		ctx := context.Background()

		if joinMsg.UserID == "" {
			data, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code:    "invalid_join",
				Message: "userId is required",
			})
			_ = conn.WriteMessage(data)
			return
		}

		if host, _, err := net.SplitHostPort(conn.Conn.RemoteAddr().String()); err == nil {
			allowed, err := limiter.Allow(ctx, host, ratelimit.RuleConnect)
			if err == nil && !allowed {
				log.Printf("[gateway] join rate limited conn=%s ip=%s", conn.ID, host)
				data, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
					Code:    "rate_limited",
					Message: "too many connections",
				})
				_ = conn.WriteMessage(data)
				server.RemoveConnection(conn)
				return
			}
		}

		// A rejoin under a different user moves rooms; leave the old one first.
		if prevUser, joined := conn.Joined(); joined && prevUser != joinMsg.UserID {
			hub.Leave(conn.ID)
			if err := presenceStore.Disconnect(ctx, prevUser, conn.ID); err != nil {
				log.Printf("[gateway] presence disconnect user=%s: %v", prevUser, err)
			}
		}

		if !conn.MarkJoined(joinMsg.UserID) {
			return // connection already closed
		}

		if err := hub.Join(conn.ID, joinMsg.UserID, conn.WriteMessage); err != nil {
			log.Printf("[gateway] join failed conn=%s user=%s: %v", conn.ID, joinMsg.UserID, err)
			data, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code:    "join_failed",
				Message: "could not join delivery room",
			})
			_ = conn.WriteMessage(data)
			return
		}

		if err := presenceStore.Connect(ctx, joinMsg.UserID, conn.ID); err != nil {
			log.Printf("[gateway] presence connect user=%s: %v", joinMsg.UserID, err)
		}

		log.Printf("[gateway] joined conn=%s user=%s (room members=%d)",
			conn.ID, joinMsg.UserID, hub.MemberCount(joinMsg.UserID))
	})

	server = ws.NewServer(config, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	server.SetOnDisconnect(func(conn *ws.Connection) {
		userID, joined := conn.Joined()
		hub.Leave(conn.ID)
		if joined {
			if err := presenceStore.Disconnect(context.Background(), userID, conn.ID); err != nil {
				log.Printf("[gateway] presence disconnect user=%s: %v", userID, err)
			}
		}
	})

	heartbeat := ws.DefaultHeartbeatConfig()
	heartbeat.OnAlive = func(c *ws.Connection) {
		if userID, joined := c.Joined(); joined {
			if err := presenceStore.Refresh(context.Background(), userID); err != nil {
				log.Printf("[gateway] presence refresh user=%s: %v", userID, err)
			}
		}
	}
	server.SetHeartbeat(heartbeat)

	server.Handle("/metrics", metrics.Handler())

	// Run the server in the background so we can handle signals.
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("received signal %v, shutting down...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		natsClient.Close()
		rdb.Close()
	}
}
