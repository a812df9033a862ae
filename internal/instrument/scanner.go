package instrument

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
)

// DefaultFormats are the sample formats the scanner understands.
var DefaultFormats = []string{".wav", ".flac", ".mp3"}

// Scanner reads instrument samples from disk.
type Scanner struct {
	supportedFormats []string
	logger           *logrus.Logger
}

// NewScanner creates a scanner for the given file extensions.
func NewScanner(supportedFormats []string, logger *logrus.Logger) *Scanner {
	if len(supportedFormats) == 0 {
		supportedFormats = DefaultFormats
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Scanner{
		supportedFormats: supportedFormats,
		logger:           logger,
	}
}

// Scan walks dir and loads every supported sound into a new bank. Files that
// fail to load are logged and skipped. A missing directory yields an empty bank.
func (s *Scanner) Scan(dir string) (*Bank, error) {
	bank := NewBank()
	if dir == "" {
		return bank, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		s.logger.WithField("sounds_dir", dir).Warn("Sounds directory does not exist, instruments will be silent")
		return bank, nil
	}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !s.IsSoundFile(path) {
			return nil
		}

		sample, err := s.LoadFile(dir, path)
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Failed to load instrument sample")
			return nil
		}
		bank.Add(sample)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sounds directory: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"sounds_dir": dir,
		"samples":    bank.Len(),
	}).Info("Instrument samples loaded")
	return bank, nil
}

// LoadFile loads one sample. root is the sounds directory the sample name is
// made relative to.
func (s *Scanner) LoadFile(root, path string) (*Sample, error) {
	startTime := time.Now()

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	name := filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel)))

	sample := &Sample{
		Name:   name,
		Title:  s.readTitle(path),
		Path:   path,
		Format: strings.TrimPrefix(ext, "."),
	}

	switch ext {
	case ".wav":
		err = s.decodeWAV(sample)
	case ".flac":
		err = s.decodeFLAC(sample)
	case ".mp3":
		err = s.probeMP3(sample)
	default:
		err = fmt.Errorf("unsupported format: %s", ext)
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"name":           sample.Name,
		"format":         sample.Format,
		"duration":       sample.Duration,
		"loaded":         sample.Loaded(),
		"processingTime": time.Since(startTime),
	}).Debug("Loaded instrument sample")
	return sample, nil
}

// IsSoundFile checks if a file has a supported extension.
func (s *Scanner) IsSoundFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range s.supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// readTitle returns the tag title of a file, falling back to its stem.
func (s *Scanner) readTitle(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	f, err := os.Open(path)
	if err != nil {
		return stem
	}
	defer f.Close()

	metadata, err := tag.ReadFrom(f)
	if err != nil || metadata.Title() == "" {
		return stem
	}
	return metadata.Title()
}

// decodeWAV reads the whole PCM payload and mixes it down to mono.
func (s *Scanner) decodeWAV(sample *Sample) error {
	f, err := os.Open(sample.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("invalid wav file")
	}
	if dec.SampleRate == 0 || dec.BitDepth == 0 || dec.NumChans == 0 {
		return fmt.Errorf("invalid wav header")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("failed to decode wav: %w", err)
	}

	channels := int(dec.NumChans)
	scale := float32(int64(1) << (dec.BitDepth - 1))
	frames := len(buf.Data) / channels
	pcm := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += float32(buf.Data[i*channels+ch]) / scale
		}
		pcm[i] = sum / float32(channels)
	}

	sample.SampleRate = int(dec.SampleRate)
	sample.PCM = pcm
	sample.Duration = time.Duration(float64(frames) / float64(dec.SampleRate) * float64(time.Second))
	return nil
}

// decodeFLAC decodes every frame and mixes it down to mono.
func (s *Scanner) decodeFLAC(sample *Sample) error {
	stream, err := flac.ParseFile(sample.Path)
	if err != nil {
		return err
	}
	defer stream.Close()

	info := stream.Info
	if info.SampleRate == 0 || info.NChannels == 0 || info.BitsPerSample == 0 {
		return fmt.Errorf("flac stream missing sample info")
	}

	scale := float32(int64(1) << (info.BitsPerSample - 1))
	pcm := make([]float32, 0, info.NSamples)
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to decode flac frame: %w", err)
		}

		channels := len(frame.Subframes)
		for i := 0; i < int(frame.BlockSize); i++ {
			var sum float32
			for _, sub := range frame.Subframes {
				sum += float32(sub.Samples[i]) / scale
			}
			pcm = append(pcm, sum/float32(channels))
		}
	}

	sample.SampleRate = int(info.SampleRate)
	sample.PCM = pcm
	sample.Duration = time.Duration(float64(len(pcm)) / float64(info.SampleRate) * float64(time.Second))
	return nil
}

// probeMP3 walks the frames to measure the duration. MP3 samples are not
// decoded, so they stay silent.
func (s *Scanner) probeMP3(sample *Sample) error {
	f, err := os.Open(sample.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 {
				return fmt.Errorf("no mp3 frames: %w", err)
			}
			break
		}
		total += fr.Duration()
		frames++
	}

	sample.Duration = total
	s.logger.WithField("name", sample.Name).Debug("MP3 samples are probed only and will not sound")
	return nil
}
