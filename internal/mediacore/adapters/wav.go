package adapters

import (
	"context"
	"encoding/binary"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/mediacore"
)

// WAVSource decodes a WAV file and pushes its PCM payload as pcm_s16le
// bytes to the output port.
type WAVSource struct {
	*mediacore.BaseElement

	path    string
	file    *os.File
	decoder *wav.Decoder
	format  mediacore.MediaFormat

	intBuf *audio.IntBuffer
	eof    bool

	out *mediacore.Port
}

// NewWAVSource builds a WAV file source. Recognized keys: path
// (required), transfer_size.
func NewWAVSource(name string, config map[string]any) (mediacore.Element, error) {
	path := configString(config, "path", "")
	if path == "" {
		return nil, errors.Newf("wav source needs a path").
			Component(ComponentAdapters).
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &WAVSource{
		BaseElement: mediacore.NewBaseElement(name, config),
		path:        path,
	}
	size := configInt(config, "transfer_size", DefaultTransferSize)
	s.intBuf = &audio.IntBuffer{Data: make([]int, size/2)}
	s.out = s.AddOutPort("out", size)
	return s, nil
}

// Format returns the decoded stream format, valid after Open.
func (s *WAVSource) Format() mediacore.MediaFormat { return s.format }

func (s *WAVSource) Open(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return errors.New(err).
			Component(ComponentAdapters).
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Build()
	}

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		_ = f.Close()
		return errors.Newf("not a valid wav file").
			Component(ComponentAdapters).
			Category(errors.CategoryValidation).
			Context("path", s.path).
			Build()
	}
	d.ReadInfo()

	s.file = f
	s.decoder = d
	s.eof = false
	s.format = mediacore.MediaFormat{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		Encoding:   "pcm_s16le",
	}
	s.intBuf.Format = &audio.Format{
		NumChannels: int(d.NumChans),
		SampleRate:  int(d.SampleRate),
	}
	s.intBuf.SourceBitDepth = int(d.BitDepth)

	s.Logger().Info("wav source opened",
		"path", s.path,
		"sample_rate", s.format.SampleRate,
		"channels", s.format.Channels,
		"bit_depth", s.format.BitDepth)
	return nil
}

func (s *WAVSource) Process(ctx context.Context) (mediacore.JobResult, error) {
	if s.eof {
		return mediacore.ResultDone, nil
	}

	n, err := s.decoder.PCMBuffer(s.intBuf)
	if err != nil {
		return mediacore.ResultFail, errors.New(err).
			Component(ComponentAdapters).
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Build()
	}
	if n == 0 {
		s.eof = true
		return mediacore.ResultDone, nil
	}
	if n < len(s.intBuf.Data) {
		s.eof = true
	}

	chunk := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(chunk[i*2:i*2+2], uint16(int16(s.intBuf.Data[i])))
	}

	dst, aerr := s.out.AcquireWrite(ctx)
	if aerr != nil {
		// WAV chunks cannot be rewound through the decoder, hold the
		// converted chunk would complicate state; treat a stalled
		// downstream as fatal backpressure misconfiguration instead of
		// silently dropping samples.
		res, cerr := classifyWrite(ctx, aerr)
		if res == mediacore.ResultFail {
			return res, cerr
		}
		return mediacore.ResultFail, errors.Newf("downstream unavailable, wav samples would be lost").
			Component(ComponentAdapters).
			Category(errors.CategoryResource).
			Context("element", s.ID()).
			Build()
	}
	wrote := fillPayload(dst, chunk)
	if cerr := s.out.Commit(dst, wrote); cerr != nil {
		return mediacore.ResultFail, cerr
	}
	if wrote < len(chunk) {
		return mediacore.ResultTruncate, errors.Newf("payload truncated to %d bytes", wrote).
			Component(ComponentAdapters).
			Category(errors.CategoryProcessing).
			Context("element", s.ID()).
			Build()
	}
	return mediacore.ResultOK, nil
}

func (s *WAVSource) Close(ctx context.Context) error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.decoder = nil
	return err
}

// WAVSink drains pcm_s16le payloads from its input port into a WAV file.
type WAVSink struct {
	*mediacore.BaseElement

	path       string
	sampleRate int
	channels   int
	bitDepth   int

	file    *os.File
	encoder *wav.Encoder

	in *mediacore.Port
}

// NewWAVSink builds a WAV file sink. Recognized keys: path (required),
// sample_rate (default 44100), channels (default 1), bit_depth (default
// 16), transfer_size.
func NewWAVSink(name string, config map[string]any) (mediacore.Element, error) {
	path := configString(config, "path", "")
	if path == "" {
		return nil, errors.Newf("wav sink needs a path").
			Component(ComponentAdapters).
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &WAVSink{
		BaseElement: mediacore.NewBaseElement(name, config),
		path:        path,
		sampleRate:  configInt(config, "sample_rate", 44100),
		channels:    configInt(config, "channels", 1),
		bitDepth:    configInt(config, "bit_depth", 16),
	}
	if s.bitDepth != 16 {
		return nil, errors.Newf("wav sink supports 16-bit only, got %d", s.bitDepth).
			Component(ComponentAdapters).
			Category(errors.CategoryConfiguration).
			Context("bit_depth", s.bitDepth).
			Build()
	}
	s.in = s.AddInPort("in", configInt(config, "transfer_size", DefaultTransferSize))
	return s, nil
}

func (s *WAVSink) Open(ctx context.Context) error {
	f, err := os.Create(s.path)
	if err != nil {
		return errors.New(err).
			Component(ComponentAdapters).
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Build()
	}
	s.file = f
	s.encoder = wav.NewEncoder(f, s.sampleRate, s.bitDepth, s.channels, 1)
	s.Logger().Info("wav sink opened",
		"path", s.path,
		"sample_rate", s.sampleRate,
		"channels", s.channels)
	return nil
}

func (s *WAVSink) Process(ctx context.Context) (mediacore.JobResult, error) {
	p, err := s.in.AcquireRead(ctx)
	if err != nil {
		return classifyRead(ctx, err)
	}

	samples := len(p.Data) / 2
	buf := &audio.IntBuffer{
		Data: make([]int, samples),
		Format: &audio.Format{
			NumChannels: s.channels,
			SampleRate:  s.sampleRate,
		},
		SourceBitDepth: s.bitDepth,
	}
	for i := 0; i < samples; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(p.Data[i*2 : i*2+2])))
	}
	_ = s.in.Release(p)

	if werr := s.encoder.Write(buf); werr != nil {
		return mediacore.ResultFail, errors.New(werr).
			Component(ComponentAdapters).
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Build()
	}
	return mediacore.ResultOK, nil
}

// Close finalizes the WAV header and closes the file.
func (s *WAVSink) Close(ctx context.Context) error {
	if s.file == nil {
		return nil
	}
	var err error
	if s.encoder != nil {
		err = s.encoder.Close()
		s.encoder = nil
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return err
}
