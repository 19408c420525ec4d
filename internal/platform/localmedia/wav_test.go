package localmedia

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeTestWav(t *testing.T, path string, sampleRate int, samples []int16) {
	t.Helper()
	dataLen := len(samples) * 2
	buf := make([]byte, 0, 44+dataLen)

	hdr := make([]byte, 44)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataLen))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1)
	binary.LittleEndian.PutUint16(hdr[22:24], 1)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(hdr[32:34], 2)
	binary.LittleEndian.PutUint16(hdr[34:36], 16)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataLen))
	buf = append(buf, hdr...)

	for _, s := range samples {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		buf = append(buf, b[:]...)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write test wav: %v", err)
	}
}

func TestWavReaderStreamsAllSamples(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	samples := make([]int16, 16000*2+137)
	for i := range samples {
		samples[i] = int16(i % 2000)
	}
	writeTestWav(t, path, 16000, samples)

	r, err := OpenWav(path)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer r.Close()

	if r.SampleRate() != 16000 {
		t.Fatalf("sample rate = %d, want 16000", r.SampleRate())
	}

	total := 0
	buf := make([]int16, 4096)
	for {
		n, err := r.ReadSamples(buf)
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read samples: %v", err)
		}
	}
	if total != len(samples) {
		t.Fatalf("streamed %d samples, want %d", total, len(samples))
	}
}

func TestWavReaderRejectsNonWav(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.wav")
	if err := os.WriteFile(path, []byte("this is not audio at all, not even close"), 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	if _, err := OpenWav(path); err == nil {
		t.Fatalf("expected error for non-wav file")
	}
}

func TestMemorySourceEOF(t *testing.T) {
	src := &MemorySource{Rate: 16000, Samples: []int16{1, 2, 3}}
	buf := make([]int16, 2)
	n, err := src.ReadSamples(buf)
	if n != 2 || err != nil {
		t.Fatalf("first read: n=%d err=%v", n, err)
	}
	n, err = src.ReadSamples(buf)
	if n != 1 || err != nil {
		t.Fatalf("second read: n=%d err=%v", n, err)
	}
	if _, err := src.ReadSamples(buf); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}
