package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, CChunkR, "42"); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	tag, payload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if tag != CChunkR {
		t.Fatalf("tag = %q, want %q", tag, CChunkR)
	}
	if payload != "42" {
		t.Fatalf("payload = %q, want %q", payload, "42")
	}
}

func TestWriteFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	payload := strings.Repeat("x", MaxMsgLen+1)
	err := WriteFrame(&buf, CCkComp, payload)
	var tooLarge *FrameTooLarge
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected *FrameTooLarge, got %v", err)
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, CCkCfin, ""); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	tag, payload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if tag != CCkCfin || payload != "" {
		t.Fatalf("got tag=%q payload=%q", tag, payload)
	}
}

func TestReadFrameMalformedLength(t *testing.T) {
	buf := bytes.NewBufferString("C_INIT_R" + "abcde")
	_, _, err := ReadFrame(buf)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
}

func TestTagPadding(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, CInitR, ""); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	raw := buf.String()
	if len(raw) != tagLen+lenLen {
		t.Fatalf("frame length = %d, want %d", len(raw), tagLen+lenLen)
	}
	if raw[:tagLen] != "C_INIT_R" {
		t.Fatalf("tag bytes = %q", raw[:tagLen])
	}
}

func TestJoinSplitComplex(t *testing.T) {
	joined, err := JoinComplex("alice", "10", "20")
	if err != nil {
		t.Fatalf("JoinComplex: %v", err)
	}
	parts, err := SplitComplex(joined, 3)
	if err != nil {
		t.Fatalf("SplitComplex: %v", err)
	}
	want := []string{"alice", "10", "20"}
	for i, p := range parts {
		if p != want[i] {
			t.Fatalf("part %d = %q, want %q", i, p, want[i])
		}
	}
}

func TestJoinComplexRejectsReservedSeparator(t *testing.T) {
	_, err := JoinComplex("a~COMPLEX~b", "c")
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
}

func TestSplitComplexWrongArity(t *testing.T) {
	_, err := SplitComplex("a"+ComplexSep+"b", 3)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
}
