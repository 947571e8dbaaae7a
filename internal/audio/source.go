// Package audio implements per-guild players over a streaming source
// abstraction. Sources decode to PCM s16le 48kHz stereo; the voice path
// encodes to opus.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidVoiceChannel is raised when the bot cannot join or keep a
	// voice connection.
	ErrInvalidVoiceChannel = errors.New("invalid voice channel")
	// ErrSoundNotFound is raised when a local sound name resolves to nothing.
	ErrSoundNotFound = errors.New("sound not found")
)

// Source supplies decoded audio to a player. A source is single-use: the
// player opens it right before playback and closes it after.
type Source interface {
	Title() string
	Requester() string
	// OpenStream returns a PCM reader and a cleanup that must run after the
	// reader is exhausted or abandoned.
	OpenStream(ctx context.Context) (io.ReadCloser, func(), error)
}

// LocalSource plays a file from the configured sound directory.
type LocalSource struct {
	Path      string
	title     string
	requester string
}

// soundExtensions are the file types served from the sound library.
var soundExtensions = []string{".mp3", ".wav", ".m4a", ".webm", ".mp4"}

// FindSound resolves a bare sound name inside dir, searching subdirectories.
// The returned source title is the file name without extension.
func FindSound(dir, name, requester string) (*LocalSource, error) {
	name = strings.ToLower(name)
	var found string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || found != "" {
			return err
		}
		base := strings.ToLower(d.Name())
		ext := filepath.Ext(base)
		for _, allowed := range soundExtensions {
			if ext == allowed && strings.TrimSuffix(base, ext) == name {
				found = path
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == "" {
		return nil, fmt.Errorf("%w: %s", ErrSoundNotFound, name)
	}
	return &LocalSource{
		Path:      found,
		title:     strings.TrimSuffix(filepath.Base(found), filepath.Ext(found)),
		requester: requester,
	}, nil
}

// NewFileSource wraps a path or direct media URL that ffmpeg can open,
// bypassing extraction.
func NewFileSource(input, title, requester string) *LocalSource {
	return &LocalSource{Path: input, title: title, requester: requester}
}

func (s *LocalSource) Title() string     { return s.title }
func (s *LocalSource) Requester() string { return s.requester }

func (s *LocalSource) OpenStream(ctx context.Context) (io.ReadCloser, func(), error) {
	return ffmpegStream(ctx, s.Path)
}

// RemoteSource holds metadata resolved at enqueue time. The stream URL is
// re-resolved immediately before playback because extracted URLs are
// short-lived.
type RemoteSource struct {
	CanonicalURL string
	title        string
	requester    string
	resolver     *Resolver
}

func (s *RemoteSource) Title() string     { return s.title }
func (s *RemoteSource) Requester() string { return s.requester }

func (s *RemoteSource) OpenStream(ctx context.Context) (io.ReadCloser, func(), error) {
	streamURL, err := s.resolver.StreamURL(ctx, s.CanonicalURL)
	if err != nil {
		return nil, nil, fmt.Errorf("refetch stream url: %w", err)
	}
	return ffmpegStream(ctx, streamURL)
}

// ffmpegStream decodes any input ffmpeg can open into raw PCM on stdout.
func ffmpegStream(ctx context.Context, input string) (io.ReadCloser, func(), error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", input,
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	reader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("command start error: %w", err)
	}

	cleanup := func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	return reader, cleanup, nil
}
