/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fadeplay/internal/dsp"
)

type pathResolver struct {
	root string
}

func (r pathResolver) Resolve(ctx context.Context, locator string) (string, error) {
	path := filepath.Join(r.root, locator)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// writeWAV writes a 16-bit stereo PCM file where every sample is value.
func writeWAV(t *testing.T, path string, rate, frames int, value int16) {
	t.Helper()

	data := make([]byte, frames*4)
	for i := 0; i < frames*2; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(value))
	}

	hdr := make([]byte, 44)
	copy(hdr[0:], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:], uint32(36+len(data)))
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:], 2)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(rate))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(rate*4))
	binary.LittleEndian.PutUint16(hdr[32:], 4)
	binary.LittleEndian.PutUint16(hdr[34:], 16)
	copy(hdr[36:], "data")
	binary.LittleEndian.PutUint32(hdr[40:], uint32(len(data)))

	if err := os.WriteFile(path, append(hdr, data...), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestEncodingFor(t *testing.T) {
	tests := []struct {
		precision int
		want      dsp.Encoding
	}{
		{2, dsp.EncodingPCM16LE},
		{3, dsp.EncodingPCM24LE},
		{4, dsp.EncodingPCMFloat},
		{1, dsp.EncodingUnknown},
	}
	for _, tt := range tests {
		if got := encodingFor(tt.precision); got != tt.want {
			t.Errorf("encodingFor(%d) = %q, want %q", tt.precision, got, tt.want)
		}
	}
}

func TestBeepStream_PrepareMissingFileIsUnplayable(t *testing.T) {
	sink := NewBeepSink(pathResolver{root: t.TempDir()}, 44100, zerolog.Nop())
	st, err := sink.Open(Source{TrackID: "t1", Locator: "missing.mp3"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := st.Prepare(context.Background()); !errors.Is(err, ErrUnplayable) {
		t.Fatalf("Prepare() error = %v, want ErrUnplayable", err)
	}
	if st.Alive() {
		t.Error("unprepared stream reports alive")
	}
}

func TestBeepStream_PrepareUnknownExtensionIsUnplayable(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	sink := NewBeepSink(pathResolver{root: root}, 44100, zerolog.Nop())
	st, _ := sink.Open(Source{Locator: "notes.txt"})

	if err := st.Prepare(context.Background()); !errors.Is(err, ErrUnplayable) {
		t.Fatalf("Prepare() error = %v, want ErrUnplayable", err)
	}
}

func TestBeepStream_PrepareWAV(t *testing.T) {
	root := t.TempDir()
	writeWAV(t, filepath.Join(root, "tone.wav"), 44100, 44100*2, 1000)

	sink := NewBeepSink(pathResolver{root: root}, 44100, zerolog.Nop())
	st, _ := sink.Open(Source{TrackID: "t1", Locator: "tone.wav", StartAt: 500 * time.Millisecond})

	if err := st.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	defer st.Release()

	if !st.Alive() {
		t.Fatal("prepared stream not alive")
	}
	d, ok := st.Duration()
	if !ok || d != 2*time.Second {
		t.Errorf("Duration() = %v, %v, want 2s, true", d, ok)
	}
	if pos := st.Position(); pos != 500*time.Millisecond {
		t.Errorf("Position() = %v, want 500ms", pos)
	}
	if st.Processor().PassThrough() {
		t.Error("16-bit wav put processor into pass-through")
	}

	bs := st.(*beepStream)
	full := make([][2]float64, 1)
	if n, _ := bs.Stream(full); n != 1 {
		t.Fatalf("Stream() = %d", n)
	}

	st.Processor().SetVolume(0.5)
	buf := make([][2]float64, 512)
	n, ok := bs.Stream(buf)
	if n != len(buf) || !ok {
		t.Fatalf("Stream() = %d, %v", n, ok)
	}
	want := float64(dsp.ScaleSample(int16(full[0][0]*32768), 0.5)) / 32768
	if buf[0][0] != want || buf[0][1] != want {
		t.Errorf("scaled frame = %v, want %v", buf[0], want)
	}
	if pos := st.Position(); pos <= 500*time.Millisecond {
		t.Errorf("Position() = %v did not advance", pos)
	}
}

func TestBeepStream_OffsetPastEndPlaysFromStart(t *testing.T) {
	root := t.TempDir()
	writeWAV(t, filepath.Join(root, "short.wav"), 44100, 4410, 1)

	sink := NewBeepSink(pathResolver{root: root}, 44100, zerolog.Nop())
	st, _ := sink.Open(Source{Locator: "short.wav", StartAt: time.Minute})
	if err := st.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	defer st.Release()

	if pos := st.Position(); pos != 0 {
		t.Errorf("Position() = %v, want 0", pos)
	}
}

func TestBeepStream_ReleaseIdempotent(t *testing.T) {
	root := t.TempDir()
	writeWAV(t, filepath.Join(root, "tone.wav"), 44100, 441, 1)

	sink := NewBeepSink(pathResolver{root: root}, 44100, zerolog.Nop())
	st, _ := sink.Open(Source{Locator: "tone.wav"})
	if err := st.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := st.Release(); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if err := st.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if st.Alive() {
		t.Error("released stream alive")
	}
	if n, ok := st.(*beepStream).Stream(make([][2]float64, 8)); n != 0 || ok {
		t.Errorf("released Stream() = %d, %v", n, ok)
	}
}

func TestGstStream_ReadScalesAndEnds(t *testing.T) {
	sink := NewGStreamerSink(nil, GStreamerConfig{SampleRate: 100, Channels: 1}, zerolog.Nop())
	g := &gstStream{
		sink:     sink,
		proc:     dsp.NewProcessor(zerolog.Nop()),
		prefetch: []byte{0xe8, 0x03, 0x18, 0xfc}, // 1000, -1000
		logger:   zerolog.Nop(),
	}
	g.proc.Configure(dsp.Format{Encoding: dsp.EncodingPCM16LE, SampleRate: 100, Channels: 1})
	g.proc.SetVolume(0.5)
	g.alive.Store(true)

	buf := make([]byte, 16)
	n, err := g.Read(buf)
	if err != nil || n != 4 {
		t.Fatalf("Read() = %d, %v", n, err)
	}
	if s := int16(binary.LittleEndian.Uint16(buf)); s != 500 {
		t.Errorf("sample 0 = %d, want 500", s)
	}
	if s := int16(binary.LittleEndian.Uint16(buf[2:])); s != -500 {
		t.Errorf("sample 1 = %d, want -500", s)
	}
	// 4 bytes at 100 Hz mono 16-bit = 20ms.
	if pos := g.Position(); pos != 20*time.Millisecond {
		t.Errorf("Position() = %v, want 20ms", pos)
	}

	if _, err := g.Read(buf); err != io.EOF {
		t.Fatalf("Read() after prefetch = %v, want EOF", err)
	}
	if _, ok := g.Duration(); ok {
		t.Error("duration known without a probe")
	}
}

func TestGStreamerSink_DecoderArgs(t *testing.T) {
	sink := NewGStreamerSink(nil, GStreamerConfig{SampleRate: 48000, Channels: 2}, zerolog.Nop())
	path := "/music/song $(touch /tmp/x) `id`.mp3"

	args := sink.decoderArgs(path)
	if !slices.Contains(args, "location="+path) {
		t.Fatalf("args %q do not carry the path as a single element", args)
	}
	if !slices.Contains(args, "audio/x-raw,format=S16LE,layout=interleaved,rate=48000,channels=2") {
		t.Fatalf("args %q missing caps", args)
	}
	if args[0] != "-q" || args[len(args)-1] != "fd=1" {
		t.Fatalf("args = %q", args)
	}
}

func TestGStreamerSink_DecoderDoesNotUseShell(t *testing.T) {
	echo, err := exec.LookPath("echo")
	if err != nil {
		t.Skip("echo not available")
	}
	sink := NewGStreamerSink(nil, GStreamerConfig{LaunchBin: echo}, zerolog.Nop())
	path := "/music/song$(echo injected).mp3"

	dec, err := sink.startDecoder(path)
	if err != nil {
		t.Fatalf("startDecoder: %v", err)
	}
	out, err := io.ReadAll(dec.stdout)
	dec.stop()
	if err != nil {
		t.Fatalf("read decoder output: %v", err)
	}
	if !strings.Contains(string(out), "location="+path) {
		t.Fatalf("decoder saw %q, want the literal path", out)
	}
}
