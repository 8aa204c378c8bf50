// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
	"github.com/h2non/filetype"
)

// Opener opens the encoded sound from its start.
type Opener func() (io.ReadCloser, error)

// sniffLen is the header length filetype needs to tell formats apart.
const sniffLen = 262

// Decoder turns an encoded WAV or Ogg Vorbis stream into PCM chunks.
// It is not safe for concurrent use.
type Decoder struct {
	open     Opener
	ext      string
	seekable bool
	streamer beep.StreamSeekCloser
	format   beep.Format
	samples  [][2]float64
}

// NewDecoder opens and sniffs the sound.
func NewDecoder(open Opener) (*Decoder, error) {
	d := &Decoder{open: open}
	if err := d.start(); err != nil {
		return nil, err
	}
	return d, nil
}

type bufferedCloser struct {
	*bufio.Reader
	io.Closer
}

func (d *Decoder) start() error {
	rc, err := d.open()
	if err != nil {
		return err
	}

	// seekable streams are handed to the decoders as they are so that
	// rewinding can seek instead of reopening
	var (
		head []byte
		r    io.ReadCloser
	)
	if rs, ok := rc.(io.ReadSeeker); ok {
		head = make([]byte, sniffLen)
		n, _ := io.ReadFull(rs, head)
		head = head[:n]
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			rc.Close()
			return err
		}
		r = rc
	} else {
		br := bufio.NewReaderSize(rc, 4096)
		head, _ = br.Peek(sniffLen)
		r = bufferedCloser{br, rc}
	}
	_, d.seekable = r.(io.Seeker)
	kind, _ := filetype.Match(head)

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch kind.Extension {
	case "wav":
		streamer, format, err = wav.Decode(r)
	case "ogg":
		streamer, format, err = vorbis.Decode(r)
	default:
		rc.Close()
		return fmt.Errorf("%s: %w", kind.Extension, ErrUnsupportedFormat)
	}
	if err != nil {
		rc.Close()
		return fmt.Errorf("decode %s: %w", kind.Extension, err)
	}
	if d.ext != "" && (format.SampleRate != d.format.SampleRate || format.NumChannels != d.format.NumChannels) {
		streamer.Close()
		return fmt.Errorf("%s stream changed format on reopen", kind.Extension)
	}
	d.ext = kind.Extension
	d.streamer = streamer
	d.format = format
	return nil
}

// Format returns the PCM format chunks are produced in.
func (d *Decoder) Format() Format {
	return Format{
		SampleRate: int(d.format.SampleRate),
		Channels:   d.format.NumChannels,
	}
}

// Len returns the total number of frames, or -1 when unknown.
func (d *Decoder) Len() int {
	if d.streamer == nil {
		return -1
	}
	return d.streamer.Len()
}

// Next decodes up to frames sample frames. It returns io.EOF once the
// stream is exhausted and nothing was decoded.
func (d *Decoder) Next(frames int) ([]byte, error) {
	if d.streamer == nil {
		return nil, io.EOF
	}
	if cap(d.samples) < frames {
		d.samples = make([][2]float64, frames)
	}
	samples := d.samples[:frames]

	filled := 0
	for filled < frames {
		n, ok := d.streamer.Stream(samples[filled:])
		filled += n
		if !ok {
			break
		}
	}
	if err := d.streamer.Err(); err != nil {
		return nil, err
	}
	if filled == 0 {
		return nil, io.EOF
	}
	return encodeS16(samples[:filled], d.format.NumChannels), nil
}

// Rewind restarts decoding from the first frame.
func (d *Decoder) Rewind() error {
	if d.streamer != nil {
		if d.seekable {
			if err := d.streamer.Seek(0); err == nil {
				return nil
			}
		}
		d.streamer.Close()
		d.streamer = nil
	}
	return d.start()
}

// Close releases the encoded stream.
func (d *Decoder) Close() error {
	if d.streamer == nil {
		return nil
	}
	err := d.streamer.Close()
	d.streamer = nil
	return err
}

// ReadAll decodes the rest of the stream in chunks of chunkFrames frames.
func (d *Decoder) ReadAll(chunkFrames int) ([]byte, error) {
	var pcm []byte
	for {
		chunk, err := d.Next(chunkFrames)
		if err == io.EOF {
			return pcm, nil
		}
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, chunk...)
	}
}

func encodeS16(samples [][2]float64, channels int) []byte {
	out := make([]byte, len(samples)*channels*BytesPerSample)
	i := 0
	for _, frame := range samples {
		for c := 0; c < channels; c++ {
			v := frame[c]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			binary.LittleEndian.PutUint16(out[i:], uint16(int16(v*32767)))
			i += BytesPerSample
		}
	}
	return out
}

// ScaleS16 applies volume to signed 16 bit little endian samples. pcm is
// returned as is at full volume.
func ScaleS16(pcm []byte, volume float32) []byte {
	if volume == 1 {
		return pcm
	}
	out := make([]byte, len(pcm))
	for i := 0; i+1 < len(pcm); i += BytesPerSample {
		v := float32(int16(binary.LittleEndian.Uint16(pcm[i:]))) * volume
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(v)))
	}
	return out
}
