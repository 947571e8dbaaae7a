package cog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"guildbot/internal/command"

	"github.com/bwmarrin/discordgo"
	"github.com/shirou/gopsutil/v3/mem"
)

// availableMemory is swapped out in tests.
var availableMemory = func() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// FetchFile downloads an attachment-sized payload into memory. The
// advertised size is checked against the limit before any body bytes are
// read, and against available memory with double headroom since the payload
// is re-sent to Discord afterwards.
func FetchFile(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", &command.APIError{Service: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &command.APIError{Service: "download", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.ContentLength > limit {
		return nil, "", &command.FileTooLargeError{Size: resp.ContentLength, Limit: limit}
	}
	if resp.ContentLength > 0 {
		if avail, err := availableMemory(); err == nil && uint64(resp.ContentLength)*2 > avail {
			return nil, "", command.ErrOutOfMemory
		}
	}

	// One extra byte past the limit exposes servers lying about length.
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", &command.APIError{Service: "download", Err: err}
	}
	if int64(len(body)) > limit {
		return nil, "", &command.FileTooLargeError{Size: int64(len(body)), Limit: limit}
	}

	name := path.Base(req.URL.Path)
	if name == "/" || name == "." || name == "" {
		name = "file"
	}
	return body, name, nil
}

// Rehost uploads a payload to a channel and returns the attachment's CDN
// URL, which stays valid after the original source disappears.
func Rehost(send func(channelID, name string, r io.Reader) (*discordgo.Message, error), channelID, name string, data []byte) (string, error) {
	msg, err := send(channelID, name, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if msg == nil || len(msg.Attachments) == 0 {
		return "", errors.New("upload produced no attachment")
	}
	return msg.Attachments[0].URL, nil
}
