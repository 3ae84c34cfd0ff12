// Package coordinator accepts worker connections over the framed TCP
// protocol, drives the per-session state machine against a shared
// ChunkTracking instance, and accumulates worker timing reports (Timing)
// for the shutdown summary that cmd/coordinator prints.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"

	"chunkforge/internal/ingestclient"
	"chunkforge/internal/logging"
	"chunkforge/internal/timing"
	"chunkforge/internal/tracking"
)

// GeneratorSpec bundles the fake-data generation parameters and opaque
// config blob handed to every worker at S_INIT_R.
type GeneratorSpec struct {
	Objects int
	Visits  int
	Seed    int64
	CfgBlob string
}

// FileEntry is one member of a {filename, contents} bundle served to
// workers (a partitioner config file or a pregenerated file).
type FileEntry struct {
	Filename string
	Contents string
}

// Config bundles everything a Coordinator needs to accept and serve
// sessions.
type Config struct {
	ListenAddr        string
	Tracking          *tracking.ChunkTracking
	Ingest            *ingestclient.Client
	Uploader          ingestclient.Uploader
	SkipIngest        bool
	Database          string
	Tables            []string
	ArtifactDir       string
	GeneratorSpec     GeneratorSpec
	IngestDictJSON    string
	PartitionerFiles  []FileEntry
	PregeneratedFiles []FileEntry
	Logger            *slog.Logger
}

// Coordinator accepts worker connections and drives the per-session
// protocol against a shared ChunkTracking instance.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger

	listener net.Listener

	nameMu sync.Mutex
	nextID int

	sessMu   sync.Mutex
	active   int
	stopping bool

	timing timing.Dict
}

// New builds a Coordinator. Call Run to start accepting connections.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "coordinator"),
	}
}

// Run binds the listener and serves sessions until ctx is cancelled or
// every session has returned after observing end-of-work. The accept
// loop is woken on either condition by a self-connect to its own
// listener, since net.Listener.Accept has no cancellation hook of its
// own.
func (c *Coordinator) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("coordinator: listen: %w", err)
	}
	c.listener = ln
	c.logger.Info("listening", "addr", ln.Addr().String())

	var wg sync.WaitGroup
	defer func() {
		ln.Close()
		wg.Wait()
	}()

	stopOnCancel := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.requestStop()
		case <-stopOnCancel:
		}
	}()
	defer close(stopOnCancel)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.logger.Warn("accept error", "error", err)
			continue
		}

		c.sessMu.Lock()
		stopping := c.stopping
		c.sessMu.Unlock()
		if stopping {
			conn.Close()
			return nil
		}

		name := c.nextClientName()
		c.sessStart()
		wg.Add(1)
		go func() {
			defer wg.Done()
			sawEndOfWork := c.handleSession(ctx, conn, name)
			c.sessEnd(sawEndOfWork)
		}()
	}
}

func (c *Coordinator) nextClientName() string {
	c.nameMu.Lock()
	defer c.nameMu.Unlock()
	c.nextID++
	return fmt.Sprintf("client%d", c.nextID)
}

func (c *Coordinator) sessStart() {
	c.sessMu.Lock()
	c.active++
	c.sessMu.Unlock()
}

// sessEnd records a session's exit. If it saw end-of-work and it was the
// last active session, the coordinator requests the accept loop stop.
func (c *Coordinator) sessEnd(sawEndOfWork bool) {
	c.sessMu.Lock()
	c.active--
	shouldStop := sawEndOfWork && c.active == 0 && !c.stopping
	if shouldStop {
		c.stopping = true
	}
	c.sessMu.Unlock()
	if shouldStop {
		c.wakeAccept()
	}
}

// requestStop marks the coordinator stopping and wakes the accept loop,
// used both by sessEnd's end-of-work path and by context cancellation
// (SIGINT/SIGTERM).
func (c *Coordinator) requestStop() {
	c.sessMu.Lock()
	already := c.stopping
	c.stopping = true
	c.sessMu.Unlock()
	if !already {
		c.wakeAccept()
	}
}

func (c *Coordinator) wakeAccept() {
	if c.listener == nil {
		return
	}
	conn, err := net.DialTimeout("tcp", c.listener.Addr().String(), time.Second)
	if err != nil {
		c.logger.Warn("self-connect wakeup failed", "error", err)
		return
	}
	conn.Close()
}

// Timing returns the coordinator's aggregated per-stage duration
// accumulator.
func (c *Coordinator) Timing() *timing.Dict { return &c.timing }

// PublishIfFinished publishes the database through the ingest service
// once every chunk has reached FINISHED, and reports whether it did.
func (c *Coordinator) PublishIfFinished(ctx context.Context) (bool, error) {
	if !c.cfg.Tracking.AllFinished() {
		return false, nil
	}
	if c.cfg.SkipIngest {
		return true, nil
	}
	if err := c.cfg.Ingest.PublishDatabase(ctx, c.cfg.Database); err != nil {
		return false, fmt.Errorf("coordinator: publish database: %w", err)
	}
	return true, nil
}

func newSessionAlias() string {
	return petname.Generate(2, "-")
}

func newSessionID() string {
	return uuid.NewString()
}
