package relationship

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Directory answers which accounts hold an accepted bidirectional connection
// with a user. Connection management itself lives in an external service.
type Directory interface {
	ListAcceptedPeers(ctx context.Context, userID string) (map[string]struct{}, error)
}

// HTTPDirectory queries the relationship service over HTTP.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory constructs a directory client against baseURL.
func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 3 * time.Second},
	}
}

var _ Directory = (*HTTPDirectory)(nil)

func (d *HTTPDirectory) ListAcceptedPeers(ctx context.Context, userID string) (map[string]struct{}, error) {
	endpoint := fmt.Sprintf("%s/relationships/accepted?user=%s", d.baseURL, url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list accepted peers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relationship service returned %d", resp.StatusCode)
	}
	var body struct {
		Peers []string `json:"peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode peers: %w", err)
	}
	peers := make(map[string]struct{}, len(body.Peers))
	for _, id := range body.Peers {
		peers[id] = struct{}{}
	}
	return peers, nil
}

// StaticDirectory serves a fixed relationship graph. It backs tests and the
// RELATIONSHIP_STATIC_PEERS dev mode ("a:b,a:c" grants a<->b and a<->c).
type StaticDirectory struct {
	peers map[string]map[string]struct{}
}

// NewStaticDirectory parses a comma-separated list of colon-joined pairs.
// Malformed entries are skipped.
func NewStaticDirectory(spec string) *StaticDirectory {
	d := &StaticDirectory{peers: make(map[string]map[string]struct{})}
	for _, pair := range strings.Split(spec, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		d.add(parts[0], parts[1])
		d.add(parts[1], parts[0])
	}
	return d
}

func (d *StaticDirectory) add(a, b string) {
	if d.peers[a] == nil {
		d.peers[a] = make(map[string]struct{})
	}
	d.peers[a][b] = struct{}{}
}

var _ Directory = (*StaticDirectory)(nil)

func (d *StaticDirectory) ListAcceptedPeers(_ context.Context, userID string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(d.peers[userID]))
	for id := range d.peers[userID] {
		out[id] = struct{}{}
	}
	return out, nil
}
