package coordinator

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"chunkforge/internal/chunklog"
	"chunkforge/internal/tracking"
	"chunkforge/internal/wire"
)

type fakeIngest struct {
	nextID int
}

func (f *fakeIngest) BeginTransaction(ctx context.Context, db string) (int, error) {
	f.nextID++
	return f.nextID, nil
}

func (f *fakeIngest) EndTransaction(ctx context.Context, db string, id int, abort bool) error {
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln.Close() // coordinator.Run binds its own listener on the freed port

	ct := tracking.New(tracking.Config{
		ResultSet:       []int{1, 2, 3},
		Logs:            chunklog.New(chunklog.Paths{}),
		Ingest:          &fakeIngest{},
		Database:        "qserv_skymap",
		TransactionSize: 3,
	})
	coord := New(Config{
		ListenAddr:        ln.Addr().String(),
		Tracking:          ct,
		SkipIngest:        true,
		Database:          "qserv_skymap",
		GeneratorSpec:     GeneratorSpec{Objects: 10, Visits: 2, Seed: 1, CfgBlob: "cfg"},
		PartitionerFiles:  []FileEntry{{Filename: "stripes.cfg", Contents: "20"}},
		PregeneratedFiles: nil,
	})
	return coord, ln
}

func runClientSession(t *testing.T, addr string, requestCounts []int) ([][]int, []int) {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, wire.CInitR, ""); err != nil {
		t.Fatalf("write C_INIT_R: %v", err)
	}
	tag, payload, err := wire.ReadFrame(conn)
	if err != nil || tag != wire.SInitR {
		t.Fatalf("read S_INIT_R: tag=%s err=%v", tag, err)
	}
	if _, err := wire.DecodeInitResponse(payload); err != nil {
		t.Fatalf("decode S_INIT_R: %v", err)
	}

	// partitioner bundle
	if err := wire.WriteFrame(conn, wire.CPcfgR, ""); err != nil {
		t.Fatalf("write C_PCFG_R: %v", err)
	}
	for {
		tag, payload, err := wire.ReadFrame(conn)
		if err != nil || tag != wire.SPcfgA {
			t.Fatalf("read S_PCFG_A: tag=%s err=%v", tag, err)
		}
		ack, err := wire.DecodePcfgAck(payload)
		if err != nil {
			t.Fatalf("decode S_PCFG_A: %v", err)
		}
		if ack.Filename == "" {
			break
		}
	}
	// pregenerated bundle
	if err := wire.WriteFrame(conn, wire.CPcfgR, ""); err != nil {
		t.Fatalf("write C_PCFG_R: %v", err)
	}
	for {
		tag, payload, err := wire.ReadFrame(conn)
		if err != nil || tag != wire.SPcfgA {
			t.Fatalf("read S_PCFG_A: tag=%s err=%v", tag, err)
		}
		ack, err := wire.DecodePcfgAck(payload)
		if err != nil {
			t.Fatalf("decode S_PCFG_A: %v", err)
		}
		if ack.Filename == "" {
			break
		}
	}

	var batches [][]int
	var allCompleted []int
	for _, n := range requestCounts {
		if err := wire.WriteFrame(conn, wire.CChunkR, strconv.Itoa(n)); err != nil {
			t.Fatalf("write C_CHUNKR: %v", err)
		}
		tag, payload, err := wire.ReadFrame(conn)
		if err != nil || tag != wire.SCnkLst {
			t.Fatalf("read S_CNKLST: tag=%s err=%v", tag, err)
		}
		list, err := wire.DecodeChunkList(payload)
		if err != nil {
			t.Fatalf("decode S_CNKLST: %v", err)
		}
		batches = append(batches, list.ChunkIDs)
		if len(list.ChunkIDs) == 0 {
			break
		}

		report := wire.TimingReport{Durations: map[string]time.Duration{"generate": 5 * time.Millisecond}}
		enc, err := report.Encode()
		if err != nil {
			t.Fatalf("encode timing: %v", err)
		}
		if err := wire.WriteFrame(conn, wire.CTiming, enc); err != nil {
			t.Fatalf("write C_TIMING: %v", err)
		}
		if len(list.ChunkIDs) > 0 {
			if err := wire.WriteFrame(conn, wire.CCkComp, wire.EncodeCompletedIDs(list.ChunkIDs)); err != nil {
				t.Fatalf("write C_CKCOMP: %v", err)
			}
		}
		if err := wire.WriteFrame(conn, wire.CCkCfin, wire.EncodeCompletedIDs(nil)); err != nil {
			t.Fatalf("write C_CKCFIN: %v", err)
		}
		allCompleted = append(allCompleted, list.ChunkIDs...)
	}
	return batches, allCompleted
}

func TestSessionExhaustsChunksAndSignalsEndOfWork(t *testing.T) {
	coord, ln := newTestCoordinator(t)
	_ = ln

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	batches, completed := runClientSession(t, coord.cfg.ListenAddr, []int{10, 10})
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2 (one with chunks, one empty end-of-work)", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Fatalf("first batch = %v, want 3 ids", batches[0])
	}
	if len(batches[1]) != 0 {
		t.Fatalf("second batch = %v, want empty (end of work)", batches[1])
	}
	if len(completed) != 3 {
		t.Fatalf("completed = %v, want 3 ids", completed)
	}

	if !coord.cfg.Tracking.AllFinished() {
		t.Fatal("expected AllFinished after session reported all chunks complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not shut down after end-of-work")
	}
}
