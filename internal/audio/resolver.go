package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
)

var (
	ErrNoVideoMatch = errors.New("no video found for the given query")
	ErrNoAudio      = errors.New("no audio formats found for video")

	watchPattern   = regexp.MustCompile(`"url":"/watch\?v=([a-zA-Z0-9_-]{11})`)
	spotifyPattern = regexp.MustCompile(`^(spotify:track:|https?://open\.spotify\.com/track/)`)
)

// Resolver turns queries, YouTube URLs and Spotify tracks into RemoteSources
// and resolves short-lived stream URLs right before playback.
type Resolver struct {
	yt      *youtube.Client
	http    *http.Client
	baseURL string
}

// NewResolver returns a Resolver with sane timeouts.
func NewResolver() *Resolver {
	return &Resolver{
		yt:      &youtube.Client{},
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: "https://www.youtube.com",
	}
}

// Resolve converts a query or URL into a RemoteSource with metadata. Spotify
// tracks are converted to an artist+title search; bare text becomes a search
// for the top result.
func (r *Resolver) Resolve(ctx context.Context, input, requester string) (*RemoteSource, error) {
	watchURL := input

	switch {
	case spotifyPattern.MatchString(input):
		title, err := r.spotifyTrackTitle(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("spotify lookup: %w", err)
		}
		watchURL, err = r.searchFirstVideoURL(ctx, title)
		if err != nil {
			return nil, err
		}
	case !isURL(input):
		var err error
		watchURL, err = r.searchFirstVideoURL(ctx, input)
		if err != nil {
			return nil, err
		}
	}

	video, err := r.yt.GetVideoContext(ctx, watchURL)
	if err != nil {
		return nil, fmt.Errorf("youtube metadata: %w", err)
	}

	return &RemoteSource{
		CanonicalURL: r.baseURL + "/watch?v=" + video.ID,
		title:        video.Title,
		requester:    requester,
		resolver:     r,
	}, nil
}

// StreamURL re-extracts a playable stream URL for a canonical video URL.
func (r *Resolver) StreamURL(ctx context.Context, videoURL string) (string, error) {
	video, err := r.yt.GetVideoContext(ctx, videoURL)
	if err != nil {
		return "", fmt.Errorf("youtube client error: %w", err)
	}
	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return "", ErrNoAudio
	}
	link, err := r.yt.GetStreamURLContext(ctx, video, &formats[0])
	if err != nil {
		return "", fmt.Errorf("get stream URL error: %w", err)
	}
	return link, nil
}

// searchFirstVideoURL scrapes the search results page for the first watch
// link, the same way a browser would see it.
func (r *Resolver) searchFirstVideoURL(ctx context.Context, query string) (string, error) {
	searchURL := fmt.Sprintf("%s/results?search_query=%s", r.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("YouTube search failed with status code %v", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	matches := watchPattern.FindStringSubmatch(string(body))
	if len(matches) > 1 {
		return fmt.Sprintf("%s/watch?v=%s", r.baseURL, matches[1]), nil
	}
	return "", ErrNoVideoMatch
}

// spotifyTrackTitle fetches "artist - title" for a spotify track via the
// public oEmbed endpoint, which needs no credentials.
func (r *Resolver) spotifyTrackTitle(ctx context.Context, input string) (string, error) {
	trackURL := input
	if strings.HasPrefix(input, "spotify:track:") {
		trackURL = "https://open.spotify.com/track/" + strings.TrimPrefix(input, "spotify:track:")
	}

	endpoint := "https://open.spotify.com/oembed?url=" + url.QueryEscape(trackURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("spotify oembed failed with status code %v", resp.StatusCode)
	}

	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.Title == "" {
		return "", errors.New("spotify track has no title")
	}
	return payload.Title, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}
