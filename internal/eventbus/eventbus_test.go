package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type fakePublisher struct {
	published []CompletionEvent
	closed    bool
}

func (f *fakePublisher) Publish(ctx context.Context, ev CompletionEvent) error {
	f.published = append(f.published, ev)
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestCompletionEventEncodesAsJSON(t *testing.T) {
	ev := CompletionEvent{
		Database:   "qserv_skymap",
		ChunkCount: 2178,
		Duration:   "4h12m",
		FinishedAt: time.Unix(1780000000, 0).UTC(),
	}
	payload, err := encodeEvent(ev)
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	var decoded CompletionEvent
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != ev {
		t.Fatalf("decoded = %+v, want %+v", decoded, ev)
	}
}

func TestFakePublisherRecordsEvents(t *testing.T) {
	var p Publisher = &fakePublisher{}
	ev := CompletionEvent{Database: "qserv_skymap", ChunkCount: 10}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	fp := p.(*fakePublisher)
	if len(fp.published) != 1 || fp.published[0] != ev {
		t.Fatalf("published = %+v, want one copy of %+v", fp.published, ev)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fp.closed {
		t.Fatal("expected closed to be true")
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New(BackendConfig{Kind: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown backend kind")
	}
}
