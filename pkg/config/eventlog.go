package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/simfuzz/simfuzz/pkg/simlog"
	"github.com/ulikunitz/xz"
)

// maxEventPayloadBytes caps how much of a single event's Bytes field (a
// testcase, or in a future exception/console-output event, raw target
// output) is written verbatim; anything larger is cut with simlog.Truncate
// so one oversized payload can't dominate a segment.
const maxEventPayloadBytes = 4096

// Event is one JSON-lines record written to the event log (spec.md §4.G).
// The driver writes "corpus" events (an interesting testcase) and
// "solution" events; no component writes new-edge events, so PC, AflIdx
// and Indices stay empty.
type Event struct {
	Kind      string    `json:"kind"`
	Timestamp int64     `json:"timestamp"`
	PC        uint64    `json:"pc,omitempty"`
	AflIdx    int       `json:"afl_idx,omitempty"`
	Indices   []int     `json:"indices,omitempty"`
	Bytes     []byte    `json:"bytes,omitempty"`
	Solution  string    `json:"solution,omitempty"`
	// EdgeGain is the number of newly-nonzero coverage bytes this testcase
	// produced; EdgeRank is that gain's percentile against the trailing
	// window of recent gains (0 = smallest gain seen recently, 1 = largest).
	EdgeGain int     `json:"edge_gain,omitempty"`
	EdgeRank float64 `json:"edge_rank,omitempty"`
}

// EventLog is the append-only JSON-lines sink. It rotates to a
// .jsonl.xz-compressed segment once the live segment exceeds RotateBytes,
// and optionally fans each line out to a Pub/Sub topic in addition to the
// file (SPEC_FULL §11) — this does not make the fuzzer distributed, it is
// purely an additional sink for the same single-host event stream.
type EventLog struct {
	path        string
	rotateBytes int64
	logf        simlog.Func

	mu          sync.Mutex
	file        *os.File
	written     int64
	segment     int
	pubsubTopic *pubsub.Topic
}

// NewEventLog opens (or creates) path for appending. rotateMB <= 0 disables
// rotation.
func NewEventLog(path string, rotateMB int, logf simlog.Func) (*EventLog, error) {
	if logf == nil {
		logf = simlog.Discard
	}
	el := &EventLog{path: path, rotateBytes: int64(rotateMB) << 20, logf: logf}
	if path == "" {
		return el, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	el.file = f
	el.written = info.Size()
	return el, nil
}

// EnablePubsub configures an additional Pub/Sub sink for every event.
func (el *EventLog) EnablePubsub(ctx context.Context, projectID, topicID string) error {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return fmt.Errorf("eventlog: pubsub client: %w", err)
	}
	el.mu.Lock()
	el.pubsubTopic = client.Topic(topicID)
	el.mu.Unlock()
	return nil
}

// Write appends ev as one JSON line, rotating the segment first if needed,
// and publishes it to Pub/Sub if configured.
func (el *EventLog) Write(ctx context.Context, ev Event) error {
	if len(ev.Bytes) > maxEventPayloadBytes {
		ev.Bytes = simlog.Truncate(ev.Bytes, maxEventPayloadBytes/2, maxEventPayloadBytes/2)
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	el.mu.Lock()
	if el.file != nil {
		if el.rotateBytes > 0 && el.written+int64(len(line)) > el.rotateBytes {
			if err := el.rotateLocked(); err != nil {
				el.mu.Unlock()
				return err
			}
		}
		n, err := el.file.Write(line)
		el.written += int64(n)
		if err != nil {
			el.mu.Unlock()
			return fmt.Errorf("eventlog: write: %w", err)
		}
	}
	topic := el.pubsubTopic
	el.mu.Unlock()

	if topic != nil {
		result := topic.Publish(ctx, &pubsub.Message{Data: line})
		if _, err := result.Get(ctx); err != nil {
			el.logf(1, "eventlog: pubsub publish failed: %v", err)
		}
	}
	return nil
}

// rotateLocked closes the current segment, xz-compresses it, and opens a
// fresh one. Caller holds el.mu.
func (el *EventLog) rotateLocked() error {
	if el.file == nil {
		return nil
	}
	if err := el.file.Close(); err != nil {
		return err
	}
	el.segment++
	compressedPath := fmt.Sprintf("%s.%d.xz", el.path, el.segment)
	if err := compressFile(el.path, compressedPath); err != nil {
		el.logf(1, "eventlog: rotation compress failed: %v", err)
	} else if err := os.Remove(el.path); err != nil {
		el.logf(1, "eventlog: rotation cleanup failed: %v", err)
	}
	f, err := os.OpenFile(el.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	el.file = f
	el.written = 0
	return nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	w, err := xz.NewWriter(out)
	if err != nil {
		return err
	}
	defer w.Close()
	buf := make([]byte, 32*1024)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return readErr
		}
	}
	return nil
}

// Close flushes and closes the underlying file.
func (el *EventLog) Close() error {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.file == nil {
		return nil
	}
	return el.file.Close()
}
