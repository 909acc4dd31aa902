package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkwell/chat-core/internal/audit"
	"github.com/inkwell/chat-core/internal/chat"
	"github.com/inkwell/chat-core/internal/database"
	"github.com/inkwell/chat-core/internal/directory"
	"github.com/inkwell/chat-core/internal/moderation"
	"github.com/inkwell/chat-core/internal/protocol"
	"github.com/inkwell/chat-core/internal/registry"
	"github.com/inkwell/chat-core/internal/ws"
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

	// --- PostgreSQL ---
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/chat_core?sslmode=disable"
	}
	db, err := database.Open(dsn)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	// --- Redis (user directory cache) ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	// --- NATS (audit sink) ---
	// Audit is best-effort: if NATS is unreachable at startup, fall back to
	// the process log rather than refusing to start.
	var sink audit.Sink
	natsConfig := audit.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsSink, err := audit.NewNATSSink(natsConfig)
	if err != nil {
		log.Printf("failed to connect to NATS, audit events go to the log: %v", err)
		sink = audit.LogSink{}
	} else {
		sink = natsSink
	}

	// --- Moderation pipeline ---
	classifierConfig := moderation.DefaultClassifierConfig()
	classifierConfig.Endpoint = os.Getenv("MODERATION_AI_URL")
	classifierConfig.APIKey = os.Getenv("MODERATION_AI_KEY")
	if v := os.Getenv("MODERATION_AI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			classifierConfig.Timeout = d
		}
	}
	aiEnabled := classifierConfig.Endpoint != ""
	if v := os.Getenv("MODERATION_AI_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			aiEnabled = b && classifierConfig.Endpoint != ""
		}
	}

	var classifier moderation.TextClassifier
	if classifierConfig.Endpoint != "" {
		classifier = moderation.NewClassifier(classifierConfig)
	}
	decisionStore := moderation.NewStore(db)
	pipeline := moderation.NewPipeline(
		moderation.PipelineConfig{AIEnabled: aiEnabled},
		moderation.NewFilter(),
		classifier,
		decisionStore,
		sink,
	)

	// --- Core services ---
	dir := directory.NewCachedDirectory(directory.NewStore(db), redisClient)
	reg := registry.New(dir, sink)
	messageStore := chat.NewStore(db)
	buffer := chat.NewBuffer()
	router := chat.NewRouter(reg, pipeline, messageStore, sink, buffer)
	router.SetDecisionLinker(decisionStore)
	history := chat.NewHistoryService(messageStore)

	log.Printf("chat-core server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  ai_moderation:   %v", aiEnabled)

	dispatcher := ws.NewMessageDispatcher(nil)

	// requireUser resolves the authenticated user for a connection.
	requireUser := func(conn *ws.Connection) (directory.User, bool) {
		return reg.User(conn.ID)
	}

	// -----------------------------------------------------------------------
	// authenticate — bind the connection to a platform user
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeAuthenticate, func(conn *ws.Connection, msg interface{}) {
		authMsg, ok := msg.(protocol.AuthenticateMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		user, err := reg.Authenticate(ctx, conn.ID, conn, authMsg.UserID)
		if err != nil {
			log.Printf("authenticate failed conn=%s user=%d: %v", conn.ID, authMsg.UserID, err)
			resp, _ := protocol.NewServerMessage(protocol.TypeAuthError, protocol.AuthErrorMsg{
				Message: "authentication failed",
				Reason:  registry.AuthReason(err),
			})
			conn.WriteMessage(resp)
			return
		}

		resp, _ := protocol.NewServerMessage(protocol.TypeAuthenticated, protocol.AuthenticatedMsg{
			UserID: user.ID,
			Role:   user.Role,
		})
		conn.WriteMessage(resp)
		log.Printf("authenticate conn=%s user=%d role=%s", conn.ID, user.ID, user.Role)
	})

	// -----------------------------------------------------------------------
	// join_room / leave_room — room membership
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinRoom, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinRoomMsg)
		if !ok || joinMsg.RoomID == "" {
			return
		}
		if err := reg.JoinRoom(conn.ID, joinMsg.RoomID); err != nil {
			resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "not_authenticated", Message: "authenticate first",
			})
			conn.WriteMessage(resp)
			return
		}
		resp, _ := protocol.NewServerMessage(protocol.TypeJoinedRoom, protocol.JoinedRoomMsg{
			RoomID: joinMsg.RoomID,
		})
		conn.WriteMessage(resp)
		log.Printf("join_room conn=%s room=%s size=%d", conn.ID, joinMsg.RoomID, reg.RoomSize(joinMsg.RoomID))
	})

	dispatcher.Register(protocol.TypeLeaveRoom, func(conn *ws.Connection, msg interface{}) {
		leaveMsg, ok := msg.(protocol.LeaveRoomMsg)
		if !ok || leaveMsg.RoomID == "" {
			return
		}
		if err := reg.LeaveRoom(conn.ID, leaveMsg.RoomID); err != nil {
			resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "not_authenticated", Message: "authenticate first",
			})
			conn.WriteMessage(resp)
			return
		}
		resp, _ := protocol.NewServerMessage(protocol.TypeLeftRoom, protocol.LeftRoomMsg{
			RoomID: leaveMsg.RoomID,
		})
		conn.WriteMessage(resp)
	})

	// -----------------------------------------------------------------------
	// send_message — moderate, persist, fan out
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		user, ok := requireUser(conn)
		if !ok {
			resp, _ := protocol.NewServerMessage(protocol.TypeMessageError, protocol.MessageErrorMsg{
				Message: "authenticate first",
			})
			conn.WriteMessage(resp)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		router.Send(ctx, user, conn.WriteMessage, sendMsg)
	})

	// -----------------------------------------------------------------------
	// mark_read — flip read flags on the caller's messages
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMarkRead, func(conn *ws.Connection, msg interface{}) {
		markMsg, ok := msg.(protocol.MarkReadMsg)
		if !ok {
			return
		}
		user, ok := requireUser(conn)
		if !ok {
			resp, _ := protocol.NewServerMessage(protocol.TypeMessageError, protocol.MessageErrorMsg{
				Message: "authenticate first",
			})
			conn.WriteMessage(resp)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		router.MarkRead(ctx, user.ID, conn.WriteMessage, markMsg)
	})

	// -----------------------------------------------------------------------
	// get_chat_history — paginated scope history
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeGetChatHistory, func(conn *ws.Connection, msg interface{}) {
		histMsg, ok := msg.(protocol.GetChatHistoryMsg)
		if !ok {
			return
		}
		user, ok := requireUser(conn)
		if !ok {
			resp, _ := protocol.NewServerMessage(protocol.TypeChatError, protocol.ChatErrorMsg{
				Message: "authenticate first",
			})
			conn.WriteMessage(resp)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		messages, err := history.Get(ctx, user.ID, histMsg)
		if err != nil {
			log.Printf("get_chat_history user=%d: %v", user.ID, err)
			resp, _ := protocol.NewServerMessage(protocol.TypeChatError, protocol.ChatErrorMsg{
				Message: "failed to load history",
			})
			conn.WriteMessage(resp)
			return
		}
		if messages == nil {
			messages = []protocol.MessagePayload{}
		}

		resp, _ := protocol.NewServerMessage(protocol.TypeChatHistory, protocol.ChatHistoryMsg{
			Messages: messages,
		})
		conn.WriteMessage(resp)
	})

	server := ws.NewServer(config, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Drop the user mapping and room memberships when a connection goes away.
	server.SetOnDisconnect(func(connID string) {
		reg.Disconnect(connID)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if natsSink != nil {
			natsSink.Close()
		}
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
