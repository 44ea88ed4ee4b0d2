package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/kuitang/uiscenario/internal/obs"
	"github.com/kuitang/uiscenario/internal/runner"
)

// Object is one uploaded artifact.
type Object struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Store lays out run artifacts in the bucket:
//
//	runs/<run id>/<scenario id>/result.json
//	runs/<run id>/<scenario id>/failure.png
//	suites/<suite id>/report.<ext>
type Store struct {
	client *Client
}

// NewStore returns a Store writing through client.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func keySegment(s string) string {
	s = unsafeKeyChars.ReplaceAllString(s, "_")
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	s = strings.Trim(s, ".")
	if s == "" {
		return "_"
	}
	return s
}

// RunPrefix returns the key prefix holding one run's artifacts.
func RunPrefix(res runner.Result) string {
	return path.Join("runs", keySegment(res.RunID), keySegment(res.ScenarioID)) + "/"
}

// PutResult uploads the JSON result and, when present, the failure screenshot.
func (s *Store) PutResult(ctx context.Context, res runner.Result) ([]Object, error) {
	prefix := RunPrefix(res)
	body, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("artifacts: encode result: %w", err)
	}

	var out []Object
	key := prefix + "result.json"
	if err := s.client.PutObject(ctx, key, body, "application/json"); err != nil {
		return out, err
	}
	out = append(out, Object{Key: key, URL: s.client.PublicURL(key)})

	if len(res.Screenshot) > 0 {
		key = prefix + "failure.png"
		if err := s.client.PutObject(ctx, key, res.Screenshot, "image/png"); err != nil {
			return out, err
		}
		out = append(out, Object{Key: key, URL: s.client.PublicURL(key)})
	}

	obs.From(ctx).Debug("artifacts uploaded", "prefix", prefix, "objects", len(out))
	return out, nil
}

// PutReport uploads a rendered suite report. ext picks the file extension
// ("html", "md", "json", "txt").
func (s *Store) PutReport(ctx context.Context, suiteID, ext string, body []byte) (Object, error) {
	key := path.Join("suites", keySegment(suiteID), "report."+keySegment(ext))
	if err := s.client.PutObject(ctx, key, body, contentTypeFor(ext)); err != nil {
		return Object{}, err
	}
	return Object{Key: key, URL: s.client.PublicURL(key)}, nil
}

func contentTypeFor(ext string) string {
	switch ext {
	case "html":
		return "text/html; charset=utf-8"
	case "md":
		return "text/markdown; charset=utf-8"
	case "json":
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}
