// Package media turns user supplied video links into the single embeddable
// form stored on a room's media session.
package media

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const TypeYouTube = "youtube"

var (
	ErrUnsupportedURL = errors.New("unsupported media url")

	videoIdPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// Source is a normalized media reference.
type Source struct {
	Type     string
	VideoId  string
	EmbedUrl string
}

// EmbedURL renders the canonical embeddable URL for a YouTube video id.
func EmbedURL(videoId string) string {
	return fmt.Sprintf("https://www.youtube.com/embed/%s?autoplay=1&enablejsapi=1", videoId)
}

// WatchURL renders the watch page for a YouTube video id.
func WatchURL(videoId string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoId)
}

// Normalize accepts watch page links, youtu.be short links and embed links
// (with or without a scheme) and returns the canonical embed form.
func Normalize(raw string) (Source, error) {
	id, err := VideoId(raw)
	if err != nil {
		return Source{}, err
	}

	return Source{
		Type:     TypeYouTube,
		VideoId:  id,
		EmbedUrl: EmbedURL(id),
	}, nil
}

// VideoId extracts the YouTube video id from raw.
func VideoId(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsupportedURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	switch {
	case host == "youtu.be":
		id = segments[0]
	case isYouTubeHost(host):
		switch {
		case len(segments) == 1 && segments[0] == "watch":
			id = u.Query().Get("v")
		case len(segments) == 2 && isEmbedPath(segments[0]):
			id = segments[1]
		}
	default:
		return "", fmt.Errorf("%w: host %q", ErrUnsupportedURL, u.Hostname())
	}

	if !videoIdPattern.MatchString(id) {
		return "", fmt.Errorf("%w: no video id in %q", ErrUnsupportedURL, raw)
	}

	return id, nil
}

func isYouTubeHost(host string) bool {
	return host == "youtube.com" ||
		strings.HasSuffix(host, ".youtube.com") ||
		host == "youtube-nocookie.com"
}

func isEmbedPath(segment string) bool {
	switch segment {
	case "embed", "shorts", "live", "v":
		return true
	}
	return false
}
