// Command lidarreplay records or replays the raw byte stream from the
// lidar's serial port to/from a pcap file, using gopacket/pcapgo for
// offline capture, pure-Go (no libpcap, no build tag) since there is no
// network packet here to parse — each capture record is just one raw
// serial read.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.bug.st/serial"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: lidarreplay <record|replay> [flags]")
	}
	mode := os.Args[1]
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	port := fs.String("port", "/dev/ttyLidar", "serial port (record mode)")
	file := fs.String("file", "lidar.pcap", "pcap capture file")
	readSize := fs.Int("chunk", 132, "bytes read per capture record (record mode)")
	realtime := fs.Bool("realtime", false, "pace replay using the original inter-record delay")
	fs.Parse(os.Args[2:])

	switch mode {
	case "record":
		if err := record(*port, *file, *readSize); err != nil {
			log.Fatalf("record: %v", err)
		}
	case "replay":
		if err := replay(*file, os.Stdout, *realtime); err != nil {
			log.Fatalf("replay: %v", err)
		}
	default:
		log.Fatalf("unknown mode %q: want record or replay", mode)
	}
}

// record reads raw bytes from the lidar serial port in fixed-size chunks
// and writes each chunk as one pcap record, preserving arrival order and
// timing for later replay.
func record(portName, file string, chunkSize int) error {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	conn, err := serial.Open(portName, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", portName, err)
	}
	defer conn.Close()

	out, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("create %s: %w", file, err)
	}
	defer out.Close()

	bw := bufio.NewWriter(out)
	defer bw.Flush()
	w := pcapgo.NewWriter(bw)
	if err := w.WriteFileHeader(uint32(chunkSize), layers.LinkTypeRaw); err != nil {
		return fmt.Errorf("write pcap header: %w", err)
	}

	buf := make([]byte, chunkSize)
	count := 0
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read serial: %w", err)
		}
		if n == 0 {
			continue
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: n,
			Length:        n,
		}
		if err := w.WritePacket(ci, buf[:n]); err != nil {
			return fmt.Errorf("write packet: %w", err)
		}
		count++
	}
	log.Printf("recorded %d frames to %s", count, file)
	return nil
}

// replay reads a pcap file written by record and writes each record's raw
// bytes to w in order, optionally pacing playback to match the original
// capture timestamps.
func replay(file string, w io.Writer, realtime bool) error {
	in, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer in.Close()

	r, err := pcapgo.NewReader(bufio.NewReader(in))
	if err != nil {
		return fmt.Errorf("read pcap header: %w", err)
	}

	var prevTimestamp time.Time
	count := 0
	for {
		data, ci, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read packet %d: %w", count, err)
		}

		if realtime && !prevTimestamp.IsZero() {
			if delay := ci.Timestamp.Sub(prevTimestamp); delay > 0 {
				time.Sleep(delay)
			}
		}
		prevTimestamp = ci.Timestamp

		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write record %d: %w", count, err)
		}
		count++
	}
	log.Printf("replayed %d frames from %s", count, file)
	return nil
}
