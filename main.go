package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"acfleet/auth"
	"acfleet/internal/commands"
	"acfleet/internal/config"
	"acfleet/internal/db"
	"acfleet/internal/devlock"
	"acfleet/internal/discovery"
	"acfleet/internal/engine"
	"acfleet/internal/mqtt"
	"acfleet/internal/notify"
	"acfleet/internal/redis"
	"acfleet/internal/scheduler"
	"acfleet/internal/sessions"
	"acfleet/internal/taskqueue"
	"acfleet/internal/uplink"
	"acfleet/internal/web"
	"acfleet/internal/web/api"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	dbConn, err := db.NewDB(cfg.DBURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer dbConn.Close()

	redisClient := redis.NewRedisClient(cfg.RedisAddr)
	stateCache := redis.NewStateCache(redisClient)

	mqttClient, err := mqtt.NewClient(cfg.MQTTBroker, cfg.MQTTClientID)
	if err != nil {
		log.Fatalf("Failed to connect to MQTT: %v", err)
	}
	defer mqttClient.Disconnect(250)

	hub := notify.NewHub()

	router := commands.NewRouter(dbConn, mqttClient)
	registry := discovery.NewRegistry(dbConn, mqttClient)
	learning := sessions.NewLearningStore(mqttClient)
	detection := sessions.NewDetectionStore(mqttClient)

	eng := engine.NewEngine(dbConn, router, hub)

	queue := taskqueue.NewQueue(cfg.RedisAddr)
	defer queue.Close()

	worker := taskqueue.NewWorker(cfg.RedisAddr, eng)
	worker.Start()

	sched := scheduler.NewScheduler(func(routineID int64) {
		if err := queue.EnqueueRun(routineID); err != nil {
			log.Printf("MAIN: Failed to enqueue routine %d: %v", routineID, err)
		}
	})
	sched.Start()

	routines, err := dbConn.GetAllRoutines(context.Background())
	if err != nil {
		log.Fatalf("Failed to load routines: %v", err)
	}
	sched.LoadRoutines(routines)

	// Periodic sweep of discovery entries nobody claimed.
	if _, err := sched.AddJob("@every 5m", func() {
		if n := registry.EvictStale(discovery.DefaultEvictMaxAge); n > 0 {
			log.Printf("MAIN: Evicted %d stale discovery entries", n)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule discovery sweep: %v", err)
	}

	// One locker for every path that mutates device rows, bus and HTTP alike.
	locks := devlock.New()

	dispatcher := uplink.NewDispatcher(dbConn, queue, learning, detection, hub, stateCache, locks)
	if err := dispatcher.Subscribe(mqttClient); err != nil {
		log.Fatalf("Failed to subscribe uplink handlers: %v", err)
	}
	if err := mqttClient.Subscribe(mqtt.DiscoveryFilter, registry.HandleMessage); err != nil {
		log.Fatalf("Failed to subscribe discovery handler: %v", err)
	}

	authModule := auth.NewAuthModule(dbConn.Pool(), cfg.JWTSecret)

	webServer := web.NewWebServer(authModule, hub, api.DeviceDeps{
		DB:        dbConn,
		Router:    router,
		Registry:  registry,
		Learning:  learning,
		Detection: detection,
		Bus:       mqttClient,
		State:     stateCache,
		Locks:     locks,
	}, api.RoutineDeps{
		DB:        dbConn,
		Scheduler: sched,
	})
	go func() {
		if err := webServer.Start(cfg.HTTPAddr); err != nil {
			log.Fatalf("Web server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	sched.Stop()
	worker.Stop()
	log.Println("Shutdown complete")
}
