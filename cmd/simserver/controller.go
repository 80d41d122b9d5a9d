package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tuzfucius/YULU-simulation/services/engine"
	"github.com/Tuzfucius/YULU-simulation/services/runstore"
)

// runState is the core's lifecycle per spec.md §6 "Control messages":
// INIT(config), START, PAUSE, RESUME, STOP, RESET.
type runState string

const (
	stateInit    runState = "init"
	stateRunning runState = "running"
	statePaused  runState = "paused"
	stateStopped runState = "stopped"
)

// controller owns one engine instance's lifecycle and drives its tick
// loop in a background goroutine, translating the spec's control
// messages into state transitions an HTTP handler can call directly.
// newEngine is called on construction and on every RESET so a run can be
// replayed from clock zero without restarting the process.
type controller struct {
	log           *logrus.Entry
	newEngine     func() *engine.Engine
	hub           *hub
	redisClient   *redis.Client
	redisChannel  string
	store         *runstore.Store
	seed          int64
	totalTime     float64
	ticksPerSnap  int

	mu      sync.Mutex
	eng     *engine.Engine
	runID   string
	state   runState
	cancel  context.CancelFunc
	lastErr error
}

func newController(log *logrus.Entry, newEngine func() *engine.Engine, h *hub, rc *redis.Client, channel string, store *runstore.Store, seed int64, totalTime float64, ticksPerSnap int) *controller {
	if ticksPerSnap < 1 {
		ticksPerSnap = 1
	}
	c := &controller{
		log:          log,
		newEngine:    newEngine,
		hub:          h,
		redisClient:  rc,
		redisChannel: channel,
		store:        store,
		seed:         seed,
		totalTime:    totalTime,
		ticksPerSnap: ticksPerSnap,
	}
	c.eng = newEngine()
	c.runID = uuid.NewString()
	c.state = stateInit
	return c
}

// Init rebuilds the engine from scratch without starting it, equivalent
// to spec.md's INIT(config): the next Start begins a fresh run at clock
// zero with a new run id.
func (c *controller) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.eng = c.newEngine()
	c.runID = uuid.NewString()
	c.state = stateInit
	c.lastErr = nil
}

func (c *controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateRunning {
		return nil
	}
	if c.state == stateStopped {
		return errors.New("run has stopped; call INIT or RESET before START")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = stateRunning
	go c.loop(ctx, c.eng, c.runID)
	return nil
}

func (c *controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		return fmt.Errorf("cannot pause from state %q", c.state)
	}
	c.state = statePaused
	return nil
}

func (c *controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != statePaused {
		return fmt.Errorf("cannot resume from state %q", c.state)
	}
	c.state = stateRunning
	return nil
}

func (c *controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = stateStopped
	return nil
}

// Reset returns the controller to INIT state with a brand-new engine,
// discarding any in-progress or completed run.
func (c *controller) Reset() {
	c.Init()
}

func (c *controller) loop(ctx context.Context, eng *engine.Engine, runID string) {
	tick := 0
	for {
		c.mu.Lock()
		state := c.state
		c.mu.Unlock()

		switch state {
		case statePaused:
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		case stateRunning:
		default:
			return
		}

		ev, err := eng.Step(ctx)
		if err != nil {
			c.finish(runID, eng, err)
			return
		}
		tick++

		if tick%c.ticksPerSnap == 0 || ev.Done {
			c.publish(wsMessage{Type: "PROGRESS", Payload: buildProgress(eng, ev, c.totalTime)})
			c.publish(wsMessage{Type: "SNAPSHOT", Payload: buildSnapshot(eng, ev)})
			for _, a := range ev.Alerts {
				c.publish(wsMessage{Type: "LOG", Payload: a})
			}
		}

		if ev.Done {
			c.finish(runID, eng, nil)
			return
		}
	}
}

func (c *controller) publish(msg wsMessage) {
	c.hub.publishJSON(msg)
	if c.redisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.hub.publishRedis(ctx, c.redisClient, c.redisChannel, msg, c.log)
}

func (c *controller) finish(runID string, eng *engine.Engine, err error) {
	c.mu.Lock()
	c.state = stateStopped
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		c.log.WithError(err).WithField("run_id", runID).Error("run ended with error")
		return
	}

	c.publish(wsMessage{Type: "COMPLETE", Payload: map[string]string{"run_id": runID}})
	c.log.WithFields(logrus.Fields{"run_id": runID, "clock": eng.Clock()}).Info("run finished")

	if c.store == nil {
		return
	}
	artifact := eng.Artifact()
	meta := runstore.Meta{RunID: runID, Seed: c.seed, Weather: "clear"}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sum, err := c.store.SaveRun(ctx, meta, artifact)
	if err != nil {
		c.log.WithError(err).Error("persist run artifact")
		return
	}
	c.log.WithFields(logrus.Fields{"run_id": runID, "checksum": sum}).Info("persisted run artifact")
}

func (c *controller) status() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp := map[string]interface{}{
		"run_id":       c.runID,
		"state":        string(c.state),
		"clock":        c.eng.Clock(),
		"active_count": c.eng.ActiveCount(),
		"stats":        c.eng.Stats(),
	}
	if c.lastErr != nil {
		resp["error"] = c.lastErr.Error()
	}
	return resp
}

func (c *controller) artifact() engine.RunArtifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eng.Artifact()
}
