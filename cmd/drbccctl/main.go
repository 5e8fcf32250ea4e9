package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dresearch/go-drbcc/pkg/drbcc"
	"github.com/dresearch/go-drbcc/pkg/drbcc/flashfsm"
	"github.com/dresearch/go-drbcc/pkg/drbcc/proto"
	"github.com/dresearch/go-drbcc/pkg/link"
	"github.com/dresearch/go-drbcc/pkg/metrics"
	"github.com/dresearch/go-drbcc/pkg/snapshot"
	"github.com/dresearch/go-drbcc/pkg/telemetry"
)

// Configuration flags
var (
	serialDevice = flag.String("serial", "/dev/ttyS0", "Serial device path")
	baudRate     = flag.Int("baud", 921600, "Serial baud rate (57600, 115200 or 921600)")
	redisAddr    = flag.String("redis-addr", "", "Redis server address for telemetry (empty: disabled)")
	redisPass    = flag.String("redis-pass", "", "Redis password")
	redisDB      = flag.Int("redis-db", 0, "Redis database number")
	metricsAddr  = flag.String("metrics-addr", "", "Prometheus listen address (empty: disabled)")
	snapshotFile = flag.String("snapshot-file", "", "Device-state snapshot file (empty: disabled)")
	traceMask    = flag.Uint("trace", 0, "Trace category bitmask")
	heartbeatSec = flag.Uint("heartbeat", 0, "Heartbeat watchdog interval in seconds (0: disabled)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting BCTRL driver")
	log.Printf("Serial device: %s", *serialDevice)
	log.Printf("Baud rate: %d", *baudRate)

	drbcc.Init(*traceMask)

	var publisher *telemetry.Publisher
	if *redisAddr != "" {
		var err error
		publisher, err = telemetry.New(*redisAddr, *redisPass, *redisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer publisher.Close()
		log.Printf("Connected to Redis at %s", *redisAddr)
	}

	h := drbcc.Open()

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		h.SetMetrics(metrics.New(reg))
		go func() {
			if err := metrics.Serve(*metricsAddr, reg); err != nil {
				log.Printf("Metrics listener failed: %v", err)
			}
		}()
		log.Printf("Serving metrics on %s", *metricsAddr)
	}

	// Last observed device state, persisted on shutdown when a snapshot
	// file is configured.
	var lastTable *flashfsm.PartitionTable
	var lastBlock uint16
	var lastEntry, lastWrap byte

	sessionDone := make(chan bool, 8)

	h.SetCallbacks(drbcc.Callbacks{
		Error: func(message string) {
			log.Printf("BCTRL: %s", message)
		},
		Session: func(id drbcc.SessionID, success bool) {
			if publisher != nil {
				if err := publisher.PublishSession(uint64(id), success); err != nil {
					log.Printf("Telemetry publish failed: %v", err)
				}
			}
			select {
			case sessionDone <- success:
			default:
			}
		},
		Protocol: func(major, minor, fwRunning byte, extra []byte) {
			log.Printf("Protocol version %d.%d (firmware running: %d)", major, minor, fwRunning)
		},
		ID: func(board, slot byte, serial []byte) {
			log.Printf("Board %d slot %d serial % X", board, slot, serial)
		},
		RTC: func(t time.Time, epoch byte) {
			log.Printf("Device clock: %s (epoch %d)", t.Format(time.RFC3339), epoch)
			if publisher != nil {
				if err := publisher.PublishRTC(t, epoch); err != nil {
					log.Printf("Telemetry publish failed: %v", err)
				}
			}
		},
		Status: func(raw []byte) {
			log.Printf("Status: % X", raw)
			if publisher != nil {
				if err := publisher.PublishStatus(raw); err != nil {
					log.Printf("Telemetry publish failed: %v", err)
				}
			}
		},
		Accel: func(eventType byte, x, y, z int16) {
			log.Printf("Accelerometer event %d: x=%d y=%d z=%d", eventType, x, y, z)
			if publisher != nil {
				if err := publisher.PublishAccelEvent(eventType, x, y, z); err != nil {
					log.Printf("Telemetry publish failed: %v", err)
				}
			}
		},
		HDOff: func(reason byte, token []byte) {
			log.Printf("HDD off requested, reason %d", reason)
		},
		Partition: func(table flashfsm.PartitionTable) {
			lastTable = &table
			for i, e := range table.Entries {
				if e.Empty() {
					continue
				}
				log.Printf("Partition %2d: kind=%d sub=%d start=%d length=%d blocksized=%v",
					i, e.Kind, e.SubIndex, e.StartBlock, e.Length, e.BlockSized)
			}
		},
		Progress: func(current, total int) {
			log.Printf("Transfer progress: %d/%d", current, total)
		},
		GetLog: func(rec flashfsm.LogRecord) {
			if t, epoch, ok := rec.Time(); ok {
				log.Printf("log %6d: %s (epoch %d): %s % X", rec.Pos, t.Format("2006-01-02 15:04:05"), epoch, rec.Event(), rec.Payload())
			} else {
				log.Printf("log %6d: %s % X", rec.Pos, rec.Event(), rec.Data)
			}
			if publisher != nil {
				if err := publisher.PushLogRecord(rec.Pos, rec.Data); err != nil {
					log.Printf("Telemetry publish failed: %v", err)
				}
			}
		},
		GetPos: func(block uint16, entry byte, wrap byte) {
			lastBlock, lastEntry, lastWrap = block, entry, wrap
			log.Printf("Ring log cursor: block %d entry %d wrap 0x%02X", block, entry, wrap)
		},
	})

	if rc := h.Start(*serialDevice, link.BaudRate(*baudRate)); rc != proto.NoError {
		log.Fatalf("Failed to start BCTRL link: %v", rc)
	}
	defer h.Close()
	log.Printf("Connected to BCTRL")

	stop := make(chan struct{})
	go h.Run(stop)

	// Give the bootstrap sync a moment on the wire before the first
	// request.
	time.Sleep(200 * time.Millisecond)

	await := func(name string, id drbcc.SessionID, rc proto.RC) {
		if rc != proto.NoError {
			log.Printf("Warning: %s request failed: %v", name, rc)
			return
		}
		select {
		case ok := <-sessionDone:
			if !ok {
				log.Printf("Warning: %s session failed", name)
			}
		case <-time.After(5 * time.Second):
			log.Printf("Warning: %s session timed out", name)
		}
		_ = id
	}

	log.Printf("Requesting initial device state...")
	id, rc := h.ReqProtocol()
	await("protocol", id, rc)
	id, rc = h.GetIDData()
	await("id-data", id, rc)
	id, rc = h.ReqRTC()
	await("rtc", id, rc)
	id, rc = h.GetStatus()
	await("status", id, rc)
	id, rc = h.GetPartitionTable()
	await("partition-table", id, rc)
	id, rc = h.GetPos()
	await("ring-log-position", id, rc)
	log.Printf("Initial device state requested.")

	var heartbeat *time.Ticker
	if *heartbeatSec > 0 {
		heartbeat = time.NewTicker(time.Duration(*heartbeatSec) * time.Second / 2)
		defer heartbeat.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		var tick <-chan time.Time
		if heartbeat != nil {
			tick = heartbeat.C
		}
		select {
		case <-tick:
			id, rc := h.Heartbeat(uint16(*heartbeatSec))
			await("heartbeat", id, rc)
		case <-sigCh:
			close(stop)
			if *snapshotFile != "" {
				s := snapshot.Snapshot{
					Partition: lastTable,
					LogBlock:  lastBlock,
					LogEntry:  lastEntry,
					LogWrap:   lastWrap,
				}
				if err := snapshot.Save(*snapshotFile, s); err != nil {
					log.Printf("Failed to save snapshot: %v", err)
				} else {
					log.Printf("Saved device-state snapshot to %s", *snapshotFile)
				}
			}
			log.Printf("Shutting down...")
			return
		}
	}
}
