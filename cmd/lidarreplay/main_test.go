package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"
)

func writeTestPCAP(t *testing.T, path string, records [][]byte, start time.Time) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	bw := bufio.NewWriter(f)
	w := pcapgo.NewWriter(bw)
	require.NoError(t, w.WriteFileHeader(132, layers.LinkTypeRaw))

	for i, rec := range records {
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * 10 * time.Millisecond),
			CaptureLength: len(rec),
			Length:        len(rec),
		}
		require.NoError(t, w.WritePacket(ci, rec))
	}
	require.NoError(t, bw.Flush())
}

func TestReplay_WritesRecordsInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.pcap")

	records := [][]byte{
		bytes.Repeat([]byte{0xAA}, 4),
		bytes.Repeat([]byte{0xBB}, 4),
		bytes.Repeat([]byte{0xCC}, 4),
	}
	writeTestPCAP(t, path, records, time.Unix(1700000000, 0))

	var out bytes.Buffer
	require.NoError(t, replay(path, &out, false))

	var want bytes.Buffer
	for _, r := range records {
		want.Write(r)
	}
	require.Equal(t, want.Bytes(), out.Bytes())
}

func TestReplay_MissingFileReturnsError(t *testing.T) {
	var out bytes.Buffer
	err := replay(filepath.Join(t.TempDir(), "missing.pcap"), &out, false)
	require.Error(t, err)
}
