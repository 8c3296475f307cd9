package adapters

import (
	"context"
	"io"
	"os"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/mediacore"
)

// FileSource reads a raw file in transfer-size chunks and pushes them to
// its output port. It reports done when the file is exhausted.
type FileSource struct {
	*mediacore.BaseElement

	path string
	file *os.File
	buf  []byte
	eof  bool

	out *mediacore.Port
}

// NewFileSource builds a raw file source. Recognized keys: path
// (required), transfer_size.
func NewFileSource(name string, config map[string]any) (mediacore.Element, error) {
	path := configString(config, "path", "")
	if path == "" {
		return nil, errors.Newf("file source needs a path").
			Component(ComponentAdapters).
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &FileSource{
		BaseElement: mediacore.NewBaseElement(name, config),
		path:        path,
	}
	size := configInt(config, "transfer_size", DefaultTransferSize)
	s.buf = make([]byte, size)
	s.out = s.AddOutPort("out", size)
	return s, nil
}

func (s *FileSource) Open(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return errors.New(err).
			Component(ComponentAdapters).
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Build()
	}
	s.file = f
	s.eof = false
	s.Logger().Info("file source opened", "path", s.path)
	return nil
}

func (s *FileSource) Process(ctx context.Context) (mediacore.JobResult, error) {
	if s.eof {
		return mediacore.ResultDone, nil
	}

	n, err := s.file.Read(s.buf)
	if n == 0 {
		if err == io.EOF {
			s.eof = true
			return mediacore.ResultDone, nil
		}
		if err != nil {
			return mediacore.ResultFail, errors.New(err).
				Component(ComponentAdapters).
				Category(errors.CategoryFileIO).
				Context("path", s.path).
				Build()
		}
		return mediacore.ResultContinue, nil
	}

	dst, aerr := s.out.AcquireWrite(ctx)
	if aerr != nil {
		// The chunk is re-read on retry only when the file supports
		// seeking back; raw files do, so rewind.
		if _, serr := s.file.Seek(int64(-n), io.SeekCurrent); serr != nil {
			return mediacore.ResultFail, serr
		}
		return classifyWrite(ctx, aerr)
	}
	wrote := fillPayload(dst, s.buf[:n])
	if cerr := s.out.Commit(dst, wrote); cerr != nil {
		return mediacore.ResultFail, cerr
	}

	if err == io.EOF {
		s.eof = true
	}
	if wrote < n {
		return mediacore.ResultTruncate, errors.Newf("payload truncated to %d bytes", wrote).
			Component(ComponentAdapters).
			Category(errors.CategoryProcessing).
			Context("element", s.ID()).
			Build()
	}
	return mediacore.ResultOK, nil
}

func (s *FileSource) Close(ctx context.Context) error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// FileSink drains its input port into a raw file.
type FileSink struct {
	*mediacore.BaseElement

	path string
	file *os.File

	written int64

	in *mediacore.Port
}

// NewFileSink builds a raw file sink. Recognized keys: path (required),
// transfer_size.
func NewFileSink(name string, config map[string]any) (mediacore.Element, error) {
	path := configString(config, "path", "")
	if path == "" {
		return nil, errors.Newf("file sink needs a path").
			Component(ComponentAdapters).
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &FileSink{
		BaseElement: mediacore.NewBaseElement(name, config),
		path:        path,
	}
	s.in = s.AddInPort("in", configInt(config, "transfer_size", DefaultTransferSize))
	return s, nil
}

func (s *FileSink) Open(ctx context.Context) error {
	f, err := os.Create(s.path)
	if err != nil {
		return errors.New(err).
			Component(ComponentAdapters).
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Build()
	}
	s.file = f
	s.written = 0
	s.Logger().Info("file sink opened", "path", s.path)
	return nil
}

func (s *FileSink) Process(ctx context.Context) (mediacore.JobResult, error) {
	p, err := s.in.AcquireRead(ctx)
	if err != nil {
		return classifyRead(ctx, err)
	}

	n, werr := s.file.Write(p.Data)
	s.written += int64(n)
	_ = s.in.Release(p)

	if werr != nil {
		return mediacore.ResultFail, errors.New(werr).
			Component(ComponentAdapters).
			Category(errors.CategoryFileIO).
			Context("path", s.path).
			Build()
	}
	return mediacore.ResultOK, nil
}

// BytesWritten returns the byte count flushed so far.
func (s *FileSink) BytesWritten() int64 { return s.written }

func (s *FileSink) Close(ctx context.Context) error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.Logger().Info("file sink closed", "path", s.path, "bytes", s.written)
	return err
}
