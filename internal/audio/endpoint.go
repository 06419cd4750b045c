// Package audio segments a caller's PCM stream into utterances. The
// endpointer is deliberately simple energy-based voice detection; anything
// smarter belongs in the transcription provider.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const frameDur = 20 * time.Millisecond

// Config tunes the endpointer. Audio is 16-bit little-endian mono PCM.
type Config struct {
	SampleRate       int
	SilenceThreshold time.Duration // trailing silence that closes an utterance
	MinSpeech        time.Duration // voiced audio required before a segment counts
	RMSFloor         float64       // frame RMS at or above this is speech
}

// Endpointer accumulates PCM and emits one byte slice per detected
// utterance. It is not safe for concurrent use; each audio stream owns one.
type Endpointer struct {
	cfg            Config
	frameBytes     int
	pending        []byte // partial frame carry-over
	segment        []byte
	voicedFrames   int
	silentFrames   int
	inUtterance    bool
	framesPerMin   int
	framesPerClose int
}

// NewEndpointer builds an endpointer for one stream.
func NewEndpointer(cfg Config) *Endpointer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.RMSFloor <= 0 {
		cfg.RMSFloor = 300
	}
	samplesPerFrame := int(float64(cfg.SampleRate) * frameDur.Seconds())
	e := &Endpointer{
		cfg:            cfg,
		frameBytes:     samplesPerFrame * 2,
		framesPerMin:   int(cfg.MinSpeech / frameDur),
		framesPerClose: int(cfg.SilenceThreshold / frameDur),
	}
	if e.framesPerMin < 1 {
		e.framesPerMin = 1
	}
	if e.framesPerClose < 1 {
		e.framesPerClose = 1
	}
	return e
}

// Push feeds a PCM chunk and returns any utterances completed by it.
func (e *Endpointer) Push(chunk []byte) [][]byte {
	var out [][]byte
	data := append(e.pending, chunk...)
	for len(data) >= e.frameBytes {
		frame := data[:e.frameBytes]
		data = data[e.frameBytes:]
		if seg, ok := e.pushFrame(frame); ok {
			out = append(out, seg)
		}
	}
	e.pending = append(e.pending[:0], data...)
	return out
}

// Flush closes the stream, returning a final segment if enough speech was
// buffered.
func (e *Endpointer) Flush() ([]byte, bool) {
	defer e.reset()
	if e.inUtterance && e.voicedFrames >= e.framesPerMin {
		seg := e.segment
		return seg, true
	}
	return nil, false
}

func (e *Endpointer) pushFrame(frame []byte) ([]byte, bool) {
	voiced := frameRMS(frame) >= e.cfg.RMSFloor
	if !e.inUtterance {
		if !voiced {
			return nil, false
		}
		e.inUtterance = true
	}
	e.segment = append(e.segment, frame...)
	if voiced {
		e.voicedFrames++
		e.silentFrames = 0
		return nil, false
	}
	e.silentFrames++
	if e.silentFrames < e.framesPerClose {
		return nil, false
	}
	// Utterance closed. Blips shorter than the speech minimum are noise.
	seg := e.segment
	enough := e.voicedFrames >= e.framesPerMin
	e.reset()
	if !enough {
		return nil, false
	}
	return seg, true
}

func (e *Endpointer) reset() {
	e.segment = nil
	e.voicedFrames = 0
	e.silentFrames = 0
	e.inUtterance = false
}

func frameRMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}
