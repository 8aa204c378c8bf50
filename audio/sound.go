// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package audio

// Sound is a fully decoded short sound waiting for upload.
type Sound struct {
	Format Format
	PCM    []byte
}

// Stream describes a sound too long to decode whole. Open is used again
// for every playback.
type Stream struct {
	Format Format
	Frames int
	Open   Opener
}

// Info describes a loaded sound.
type Info struct {
	Format   Format `json:"format"`
	Frames   int    `json:"frames"`
	Streamed bool   `json:"streamed"`
}

// DecodeSound decodes the whole sound.
func DecodeSound(open Opener, chunkFrames int) (*Sound, error) {
	dec, err := NewDecoder(open)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	pcm, err := dec.ReadAll(chunkFrames)
	if err != nil {
		return nil, err
	}
	return &Sound{Format: dec.Format(), PCM: pcm}, nil
}

// Probe reads the header of a sound to be streamed later.
func Probe(open Opener) (*Stream, error) {
	dec, err := NewDecoder(open)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return &Stream{Format: dec.Format(), Frames: dec.Len(), Open: open}, nil
}

// Decoder opens a new decoder over the stream.
func (s *Stream) Decoder() (*Decoder, error) {
	return NewDecoder(s.Open)
}

// Upload copies the PCM of s into a new buffer on dev.
func Upload(dev Device, s *Sound) (uint32, Info, error) {
	id, err := dev.CreateBuffer(s.Format, s.PCM)
	if err != nil {
		return 0, Info{}, err
	}
	frames := 0
	if fs := s.Format.FrameSize(); fs > 0 {
		frames = len(s.PCM) / fs
	}
	return id, Info{Format: s.Format, Frames: frames}, nil
}
