package wire

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// InitResponse is the S_INIT_R payload: the session's friendly name, the
// fake-data generation parameters, the generator config blob, and the
// ingest connection parameters, all joined with ComplexSep.
type InitResponse struct {
	Name       string
	Objects    int
	Visits     int
	Seed       int64
	CfgBlob    string
	IngestDict string
}

func (r InitResponse) Encode() (string, error) {
	return JoinComplex(
		r.Name,
		strconv.Itoa(r.Objects),
		strconv.Itoa(r.Visits),
		strconv.FormatInt(r.Seed, 10),
		r.CfgBlob,
		r.IngestDict,
	)
}

func DecodeInitResponse(payload string) (InitResponse, error) {
	parts, err := SplitComplex(payload, 6)
	if err != nil {
		return InitResponse{}, err
	}
	objects, err := strconv.Atoi(parts[1])
	if err != nil {
		return InitResponse{}, &ProtocolError{Reason: fmt.Sprintf("bad objects field: %v", err)}
	}
	visits, err := strconv.Atoi(parts[2])
	if err != nil {
		return InitResponse{}, &ProtocolError{Reason: fmt.Sprintf("bad visits field: %v", err)}
	}
	seed, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return InitResponse{}, &ProtocolError{Reason: fmt.Sprintf("bad seed field: %v", err)}
	}
	return InitResponse{
		Name:       parts[0],
		Objects:    objects,
		Visits:     visits,
		Seed:       seed,
		CfgBlob:    parts[4],
		IngestDict: parts[5],
	}, nil
}

// PcfgAck is the S_PCFG_A payload: one partitioner-config file. An empty
// Filename signals end-of-list.
type PcfgAck struct {
	Index    int
	Filename string
	Contents string
}

func (a PcfgAck) Encode() (string, error) {
	return JoinComplex(strconv.Itoa(a.Index), a.Filename, a.Contents)
}

func DecodePcfgAck(payload string) (PcfgAck, error) {
	parts, err := SplitComplex(payload, 3)
	if err != nil {
		return PcfgAck{}, err
	}
	idx, err := strconv.Atoi(parts[0])
	if err != nil {
		return PcfgAck{}, &ProtocolError{Reason: fmt.Sprintf("bad index field: %v", err)}
	}
	return PcfgAck{Index: idx, Filename: parts[1], Contents: parts[2]}, nil
}

// ChunkList is the S_CNKLST payload: a transaction id plus a colon-separated
// list of chunk ids. An empty chunk list signals end-of-work.
type ChunkList struct {
	TransactionID int
	ChunkIDs      []int
}

func (c ChunkList) Encode() string {
	ids := make([]string, len(c.ChunkIDs))
	for i, id := range c.ChunkIDs {
		ids[i] = strconv.Itoa(id)
	}
	body := strconv.Itoa(c.TransactionID)
	if len(ids) > 0 {
		body += ":" + strings.Join(ids, ":")
	}
	return body
}

func DecodeChunkList(payload string) (ChunkList, error) {
	parts := strings.Split(payload, ":")
	txn, err := strconv.Atoi(parts[0])
	if err != nil {
		return ChunkList{}, &ProtocolError{Reason: fmt.Sprintf("bad transaction id: %v", err)}
	}
	ids := make([]int, 0, len(parts)-1)
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		id, err := strconv.Atoi(p)
		if err != nil {
			return ChunkList{}, &ProtocolError{Reason: fmt.Sprintf("bad chunk id %q: %v", p, err)}
		}
		ids = append(ids, id)
	}
	return ChunkList{TransactionID: txn, ChunkIDs: ids}, nil
}

// FragmentChunkIDs splits ids into frame-sized batches bounded both by
// MaxChunkIDsPerFrame and by the MaxMsgLen byte budget of the encoded
// colon-separated list.
func FragmentChunkIDs(ids []int) [][]int {
	if len(ids) == 0 {
		return [][]int{{}}
	}
	var batches [][]int
	var cur []int
	curLen := 0
	for _, id := range ids {
		enc := strconv.Itoa(id)
		add := len(enc) + 1 // +1 for the separator
		if len(cur) >= MaxChunkIDsPerFrame || (curLen+add) > MaxMsgLen {
			batches = append(batches, cur)
			cur = nil
			curLen = 0
		}
		cur = append(cur, id)
		curLen += add
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// EncodeCompletedIDs renders a C_CKCOMP payload: a colon-separated list of
// completed chunk ids (no leading transaction id, unlike ChunkList).
func EncodeCompletedIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ":")
}

// DecodeCompletedIDs parses a C_CKCOMP payload into chunk ids. An empty
// payload yields an empty (not nil) slice.
func DecodeCompletedIDs(payload string) ([]int, error) {
	if payload == "" {
		return []int{}, nil
	}
	parts := strings.Split(payload, ":")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("bad completed chunk id %q: %v", p, err)}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// TimingReport is the C_TIMING payload, msgpack-encoded: per-stage
// durations accumulated by a worker over its session.
type TimingReport struct {
	Durations map[string]time.Duration
}

func (t TimingReport) Encode() (string, error) {
	raw := make(map[string]int64, len(t.Durations))
	for k, v := range t.Durations {
		raw[k] = int64(v)
	}
	b, err := msgpack.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("wire: encode timing: %w", err)
	}
	return string(b), nil
}

func DecodeTimingReport(payload string) (TimingReport, error) {
	var raw map[string]int64
	if err := msgpack.Unmarshal([]byte(payload), &raw); err != nil {
		return TimingReport{}, &ProtocolError{Reason: fmt.Sprintf("malformed timing payload: %v", err)}
	}
	out := make(map[string]time.Duration, len(raw))
	for k, v := range raw {
		out[k] = time.Duration(v)
	}
	return TimingReport{Durations: out}, nil
}
