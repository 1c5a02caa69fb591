// Package telemetry mirrors the control core's current state and
// link status into an external store, the same idiom the teacher uses
// for vehicle/battery telemetry. It is entirely optional: the control
// core runs the patrol loop with a nil sink.
package telemetry

import (
	"fmt"
	"log"

	"github.com/librescoot/egg-collector/pkg/redis"
	"github.com/librescoot/egg-collector/pkg/wire"
)

// Sink receives best-effort telemetry from the control engine. Every
// method must return promptly and must never block the dispatch loop
// on a slow or unreachable backend — implementations are expected to
// log and drop rather than retry.
type Sink interface {
	PublishState(state string)
	PublishActorStatus(status wire.ActorStatus)
	PublishArmStatus(status wire.ArmStatus)
}

// RedisSink mirrors telemetry into a Redis hash, publishing a change
// notification on the hash key's channel for subscribers, following
// the teacher's WriteAndPublishString convention.
type RedisSink struct {
	client *redis.Client
	key    string
}

// NewRedisSink creates a sink that writes every field under key.
func NewRedisSink(client *redis.Client, key string) *RedisSink {
	return &RedisSink{client: client, key: key}
}

func (s *RedisSink) PublishState(state string) {
	if err := s.client.WriteAndPublishString(s.key, "state", state); err != nil {
		log.Printf("telemetry: failed to publish state: %v", err)
	}
}

func (s *RedisSink) PublishActorStatus(status wire.ActorStatus) {
	moving := "0"
	if status.IsMoving {
		moving = "1"
	}
	if err := s.client.WriteAndPublishString(s.key, "actor-moving", moving); err != nil {
		log.Printf("telemetry: failed to publish actor motion: %v", err)
	}
	distance := "unknown"
	if status.DistanceCM != nil {
		distance = fmt.Sprintf("%d", *status.DistanceCM)
	}
	if err := s.client.WriteAndPublishString(s.key, "actor-distance-cm", distance); err != nil {
		log.Printf("telemetry: failed to publish actor distance: %v", err)
	}
}

func (s *RedisSink) PublishArmStatus(status wire.ArmStatus) {
	busy := "0"
	if status.IsBusy {
		busy = "1"
	}
	if err := s.client.WriteAndPublishString(s.key, "arm-busy", busy); err != nil {
		log.Printf("telemetry: failed to publish arm status: %v", err)
	}
}
