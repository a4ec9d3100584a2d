// The receive loop is based on the open source AWS X-Ray daemon
// https://github.com/aws/aws-xray-daemon (cmd/tracing/daemon.go), reduced to
// the UDP receive and protocol-header validation path: received documents
// are decoded and logged instead of being forwarded to the X-Ray service.
package main

import (
	"encoding/json"
	"math"
	"net"

	"github.com/aws/aws-xray-daemon/pkg/bufferpool"
	"github.com/aws/aws-xray-daemon/pkg/cfg"
	"github.com/aws/aws-xray-daemon/pkg/logger"
	"github.com/aws/aws-xray-daemon/pkg/socketconn"
	"github.com/aws/aws-xray-daemon/pkg/socketconn/udp"
	"github.com/aws/aws-xray-daemon/pkg/tracesegment"
	"github.com/aws/aws-xray-daemon/pkg/util"

	seelog "github.com/cihub/seelog"
	"github.com/shirou/gopsutil/mem"
	log "github.com/sirupsen/logrus"
)

const protocolSeparator = "\n"

// daemonEmulator listens on the X-Ray daemon UDP address and logs every
// subsegment document it receives, so the emitter's wire traffic can be
// inspected without a real daemon.
type daemonEmulator struct {
	sock              socketconn.SocketConn
	pool              *bufferpool.BufferPool
	receiveBufferSize int
}

func newDaemonEmulator(udpAddress, logLevel string) *daemonEmulator {
	xrayConfig := cfg.DefaultConfig()
	xrayConfig.Socket.UDPAddress = udpAddress
	xrayConfig.LocalMode = util.Bool(true)

	// The daemon packages log through seelog; route that to the console
	// alongside our own output.
	consoleWriter, _ := seelog.NewConsoleWriter()
	logger.LoadLogConfig(consoleWriter, xrayConfig, logLevel)

	receiveBufferSize := cfg.ParameterConfigValue.Socket.BufferSizeKB * 1024
	buffers, err := bufferpool.GetPoolBufferCount(bufferMemoryMB(), receiveBufferSize)
	if err != nil {
		log.Fatalln("Cannot size the receive buffer pool:", err)
	}
	log.Debugf("%v receive buffers allocated", buffers)

	return &daemonEmulator{
		sock:              udp.New(udpAddress),
		pool:              bufferpool.Init(buffers, receiveBufferSize),
		receiveBufferSize: receiveBufferSize,
	}
}

// Run polls the socket until it is closed or fails permanently.
func (d *daemonEmulator) Run() error {
	separator := []byte(protocolSeparator)
	splitBuf := make([][]byte, 2)

	for {
		fallbackUsed := false
		bufPointer := d.pool.Get()
		if bufPointer == nil {
			// Pool exhausted; a one-off allocation keeps us reading.
			fallback := make([]byte, d.receiveBufferSize)
			bufPointer = &fallback
			fallbackUsed = true
		}
		release := func() {
			if !fallbackUsed {
				d.pool.Return(bufPointer)
			}
		}

		rlen, err := d.sock.Read(*bufPointer)
		switch err := err.(type) {
		case net.Error:
			if !err.Temporary() {
				release()
				return err
			}
			log.Errorf("daemon emulator: net: err: %v", err)
		case error:
			log.Errorf("daemon emulator: socket: err: %v", err)
		}
		if rlen == 0 {
			release()
			continue
		}

		message := (*bufPointer)[0:rlen]
		slices := util.SplitHeaderBody(&message, &separator, &splitBuf)
		if len(slices[1]) == 0 {
			log.Warnf("Missing header or segment: %s", string(slices[0]))
			release()
			continue
		}

		headerInfo := tracesegment.Header{}
		json.Unmarshal(slices[0], &headerInfo)
		if !headerInfo.IsValid() {
			log.Warnf("Invalid protocol header: %s", string(slices[0]))
			release()
			continue
		}

		logSegment(slices[1])
		release()
	}
}

func (d *daemonEmulator) Close() {
	d.sock.Close()
}

type segmentDocument struct {
	ID       string                 `json:"id"`
	TraceID  string                 `json:"trace_id"`
	ParentID string                 `json:"parent_id"`
	Name     string                 `json:"name"`
	Metadata map[string]interface{} `json:"metadata"`
}

func logSegment(payload []byte) {
	var doc segmentDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		log.WithError(err).Warnln("Received an unparseable segment document")
		return
	}
	log.WithFields(log.Fields{
		"id":        doc.ID,
		"trace_id":  doc.TraceID,
		"parent_id": doc.ParentID,
		"name":      doc.Name,
	}).Infof("Received segment: %s", payload)
}

// bufferMemoryMB sizes the receive buffer pool at 1% of system memory with a
// 3 MB floor, matching the daemon's own default.
func bufferMemoryMB() int {
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.WithError(err).Warnln("Cannot read system memory, using the minimum buffer memory")
		return 3
	}
	bufferMemoryLimitPercentageOfTotal := 0.01
	limit := int(math.Floor(bufferMemoryLimitPercentageOfTotal * float64(vm.Total) / float64(1024*1024)))
	if limit < 3 {
		return 3
	}
	return limit
}
