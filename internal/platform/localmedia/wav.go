package localmedia

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// SampleSource yields 16-bit PCM samples in bounded batches. WavReader is
// the file-backed implementation; tests use in-memory sources.
type SampleSource interface {
	SampleRate() int
	// ReadSamples fills buf and returns the count read. io.EOF signals end
	// of stream, possibly with n > 0 on the final call.
	ReadSamples(buf []int16) (int, error)
}

// WavReader streams samples out of a PCM WAV file with constant memory.
// Only 16-bit PCM is supported, which is what every ffmpeg normalization
// in this pipeline produces.
type WavReader struct {
	f             *os.File
	sampleRate    int
	channels      int
	bitsPerSample int
	dataRemaining int64
	scratch       []byte
}

func OpenWav(path string) (*WavReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	r := &WavReader{f: f}
	if err := r.readHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func (r *WavReader) readHeader() error {
	var riff [12]byte
	if _, err := io.ReadFull(r.f, riff[:]); err != nil {
		return fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return fmt.Errorf("not a RIFF/WAVE file")
	}

	// Walk chunks until "data". ffmpeg emits fmt before data; other writers
	// may interleave LIST/INFO chunks.
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r.f, hdr[:]); err != nil {
			return fmt.Errorf("read chunk header: %w", err)
		}
		chunkID := string(hdr[0:4])
		chunkLen := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch chunkID {
		case "fmt ":
			body := make([]byte, chunkLen)
			if _, err := io.ReadFull(r.f, body); err != nil {
				return fmt.Errorf("read fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return fmt.Errorf("fmt chunk too short: %d", len(body))
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != 1 {
				return fmt.Errorf("unsupported wav format %d (want PCM)", format)
			}
			r.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			r.sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			r.bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if r.bitsPerSample != 16 {
				return fmt.Errorf("unsupported bits per sample %d (want 16)", r.bitsPerSample)
			}
		case "data":
			if r.sampleRate == 0 {
				return fmt.Errorf("data chunk before fmt chunk")
			}
			r.dataRemaining = chunkLen
			return nil
		default:
			if _, err := r.f.Seek(chunkLen+(chunkLen&1), io.SeekCurrent); err != nil {
				return fmt.Errorf("skip %q chunk: %w", chunkID, err)
			}
		}
	}
}

func (r *WavReader) SampleRate() int { return r.sampleRate }
func (r *WavReader) Channels() int   { return r.channels }

func (r *WavReader) ReadSamples(buf []int16) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if r.dataRemaining <= 0 {
		return 0, io.EOF
	}
	want := int64(len(buf)) * 2
	if want > r.dataRemaining {
		want = r.dataRemaining
	}
	if int64(cap(r.scratch)) < want {
		r.scratch = make([]byte, want)
	}
	raw := r.scratch[:want]
	n, err := io.ReadFull(r.f, raw)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		r.dataRemaining = 0
		err = nil
	}
	if err != nil {
		return 0, fmt.Errorf("read samples: %w", err)
	}
	r.dataRemaining -= int64(n)
	count := n / 2
	for i := 0; i < count; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}
	if r.dataRemaining <= 0 && count == 0 {
		return 0, io.EOF
	}
	return count, nil
}

func (r *WavReader) Close() error {
	return r.f.Close()
}

// MemorySource is an in-memory SampleSource. It backs unit tests and the
// silence-detector benchmarks.
type MemorySource struct {
	Rate    int
	Samples []int16
	pos     int
}

func (s *MemorySource) SampleRate() int { return s.Rate }

func (s *MemorySource) ReadSamples(buf []int16) (int, error) {
	if s.pos >= len(s.Samples) {
		return 0, io.EOF
	}
	n := copy(buf, s.Samples[s.pos:])
	s.pos += n
	return n, nil
}

// WriteWav writes mono PCM16 samples as a minimal RIFF/WAVE file. Used
// for utterance concatenation where re-invoking ffmpeg would be overkill.
func WriteWav(path string, sampleRate int, samples []int16) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	dataLen := len(samples) * 2
	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:46+i*2], uint16(s))
	}
	return os.WriteFile(path, buf, 0o644)
}

// ReadAllSamples drains a wav file into memory. Intended for short
// utterance cuts, not full recordings.
func ReadAllSamples(path string) (int, []int16, error) {
	r, err := OpenWav(path)
	if err != nil {
		return 0, nil, err
	}
	defer r.Close()

	var out []int16
	buf := make([]int16, 16384)
	for {
		n, err := r.ReadSamples(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return r.SampleRate(), out, nil
		}
		if err != nil {
			return 0, nil, err
		}
	}
}
