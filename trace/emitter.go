package trace

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-xray-daemon/pkg/tracesegment"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// subsegment is the wire form of the daemon metadata record. It is a
// zero-duration synthetic span: start and end carry the same timestamp. The
// trace and parent ids are the daemon's own hex ids, not the resolved
// collector context, so the daemon can attach it to its segment tree.
type subsegment struct {
	ID        string                            `json:"id"`
	TraceID   string                            `json:"trace_id"`
	ParentID  string                            `json:"parent_id"`
	Name      string                            `json:"name"`
	StartTime float64                           `json:"start_time"`
	EndTime   float64                           `json:"end_time"`
	Type      string                            `json:"type"`
	Metadata  map[string]map[string]interface{} `json:"metadata"`
}

// segmentHeader is the one-line protocol preamble the daemon expects before
// every segment document.
var segmentHeader = func() []byte {
	header, err := json.Marshal(tracesegment.Header{Format: "json", Version: 1})
	if err != nil {
		panic(err)
	}
	return append(header, '\n')
}()

// Submit sends a metadata subsegment to the local tracing daemon under the
// given namespace key. Delivery is best-effort and fire-and-forget: a
// missing environment header, an unsampled trace, bad address configuration
// or a transport failure all degrade to a no-op and never reach the caller.
func (c Config) Submit(key string, metadata interface{}) {
	if c.TraceHeader == "" {
		log.Debug("No daemon trace header in the environment, skipping the subsegment")
		return
	}
	header, err := parseTraceHeader(c.TraceHeader)
	if err != nil {
		// A present but unparseable header means a broken daemon sidecar.
		log.WithError(err).Error("Daemon trace header is corrupt, skipping the subsegment")
		return
	}
	if ConvertSampleDecision(header.sampled) != UserKeep {
		log.Debug("Trace is not sampled, skipping the subsegment")
		return
	}
	payload, err := json.Marshal(newSubsegment(header, key, metadata))
	if err != nil {
		log.WithError(err).Debug("Could not serialize the subsegment")
		return
	}
	if err := c.sendSegment(payload); err != nil {
		log.WithError(err).Debug("Could not send the subsegment to the daemon")
	}
}

// SubmitFunctionTags attaches function tags to the daemon's current segment.
func (c Config) SubmitFunctionTags(tags map[string]string) {
	c.Submit(FunctionTagsKey, tags)
}

func newSubsegment(header *traceHeader, key string, metadata interface{}) subsegment {
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	return subsegment{
		ID:        newSegmentID(),
		TraceID:   header.traceID,
		ParentID:  header.parentID,
		Name:      subsegmentName,
		StartTime: now,
		EndTime:   now,
		Type:      "subsegment",
		Metadata: map[string]map[string]interface{}{
			subsegmentNamespace: {key: metadata},
		},
	}
}

// newSegmentID returns a fresh random 16-hex-character segment id.
func newSegmentID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

// sendSegment writes one UDP datagram: the protocol preamble line followed
// by the segment document. The socket lives for exactly one send and is
// closed on every path; UDP offers no acknowledgment to wait for.
func (c Config) sendSegment(payload []byte) error {
	host, port, err := net.SplitHostPort(c.DaemonAddress)
	if err != nil {
		return fmt.Errorf("invalid daemon address %q: %w", c.DaemonAddress, err)
	}
	conn, err := net.Dial("udp", net.JoinHostPort(host, port))
	if err != nil {
		return err
	}
	defer conn.Close()

	datagram := make([]byte, 0, len(segmentHeader)+len(payload))
	datagram = append(datagram, segmentHeader...)
	datagram = append(datagram, payload...)
	_, err = conn.Write(datagram)
	return err
}
