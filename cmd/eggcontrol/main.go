package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/librescoot/egg-collector/pkg/bus"
	"github.com/librescoot/egg-collector/pkg/config"
	"github.com/librescoot/egg-collector/pkg/control"
	"github.com/librescoot/egg-collector/pkg/events"
	"github.com/librescoot/egg-collector/pkg/links"
	"github.com/librescoot/egg-collector/pkg/redis"
	"github.com/librescoot/egg-collector/pkg/sched"
	"github.com/librescoot/egg-collector/pkg/telemetry"
)

var (
	redisAddr = flag.String("redis-addr", "", "Redis server address for telemetry mirroring (disabled when empty)")
	redisPass = flag.String("redis-pass", "", "Redis password")
	redisDB   = flag.Int("redis-db", 0, "Redis database number")
	redisKey  = flag.String("redis-key", "egg-collector", "Redis hash key telemetry is mirrored under")
)

func main() {
	cfg := config.DefaultControlConfig()
	config.RegisterFlags(&cfg)
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting egg collector control core")
	log.Printf("Serial device: %s", cfg.Serial.Port)
	log.Printf("Baud rate: %d", cfg.Serial.BaudRate)

	// The actor chassis and the arm manipulator are attached to the same
	// RS-485 segment, so they share one bus; pkg/bus reference-counts
	// Start/Stop so both links can own it independently.
	sharedBus := bus.New(cfg.Serial.BusConfig())

	actorLink := links.NewActorLink(sharedBus, cfg.Serial.AckTimeout, cfg.Serial.ResponseTimeout, nil)
	armLink := links.NewArmLink(sharedBus, cfg.Serial.AckTimeout, cfg.Serial.ResponseTimeout, nil)

	eventBus := events.New()
	scheduler := sched.New(eventBus)

	controlCtx := control.NewContext(actorLink, armLink, scheduler, cfg.Behaviour, cfg.Scheduler)
	stateMachine := control.NewStateMachine(controlCtx)
	engine := control.NewEngine(controlCtx, stateMachine, eventBus, scheduler, cfg.Scheduler.ActorStatusInterval, cfg.Scheduler.ArmStatusInterval)

	if *redisAddr != "" {
		redisClient, err := redis.New(*redisAddr, *redisPass, *redisDB)
		if err != nil {
			log.Printf("Warning: failed to connect to Redis for telemetry: %v", err)
		} else {
			defer redisClient.Close()
			engine.SetTelemetry(telemetry.NewRedisSink(redisClient, *redisKey))
			log.Printf("Telemetry mirroring enabled at %s under key %q", *redisAddr, *redisKey)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.Start(ctx)
	log.Printf("Control engine started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("Shutting down...")
	engine.Stop()
}
