package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	apiBaseURL      = "https://musicbrainz.org/ws/2"
	coverArtBaseURL = "https://coverartarchive.org"
)

// client talks to the MusicBrainz web service. MusicBrainz enforces one
// request per second per client and requires an identifying User-Agent;
// violating either gets the IP blocked.
type client struct {
	mu        sync.Mutex
	base      string
	http      *http.Client
	userAgent string
	interval  time.Duration
	lastCall  time.Time
}

func newClient() *client {
	return &client{
		base:     apiBaseURL,
		http:     &http.Client{Timeout: 15 * time.Second},
		interval: time.Second,
	}
}

func (c *client) configure(s settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userAgent = s.userAgent
	if s.rateLimit > 0 {
		c.interval = time.Duration(float64(time.Second) / s.rateLimit)
	}
	if s.timeout > 0 {
		c.http.Timeout = time.Duration(s.timeout) * time.Second
	}
}

func (c *client) get(path string, query url.Values, result interface{}) error {
	c.mu.Lock()
	if elapsed := time.Since(c.lastCall); elapsed < c.interval {
		time.Sleep(c.interval - elapsed)
	}
	c.lastCall = time.Now()
	userAgent := c.userAgent
	c.mu.Unlock()

	if query == nil {
		query = url.Values{}
	}
	query.Set("fmt", "json")

	req, err := http.NewRequest(http.MethodGet, c.base+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("musicbrainz request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("musicbrainz request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("musicbrainz status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("musicbrainz response: %w", err)
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("musicbrainz decode: %w", err)
	}
	return nil
}

var errNotFound = fmt.Errorf("not found")

type tag struct {
	Name string `json:"name"`
}

type artistCredit struct {
	Name string `json:"name"`
}

type releaseGroup struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	FirstReleaseDate string         `json:"first-release-date"`
	PrimaryType      string         `json:"primary-type"`
	ArtistCredit     []artistCredit `json:"artist-credit"`
	Tags             []tag          `json:"tags"`
}

type releaseGroupSearch struct {
	ReleaseGroups []releaseGroup `json:"release-groups"`
}

type release struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	ReleaseGroup *releaseGroup `json:"release-group"`
}

type recording struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Length       int64          `json:"length"`
	ArtistCredit []artistCredit `json:"artist-credit"`
	Tags         []tag          `json:"tags"`
}

type recordingSearch struct {
	Recordings []recording `json:"recordings"`
}

// luceneEscape quotes a value for embedding in a search query.
func luceneEscape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func (c *client) searchReleaseGroup(title string) (*releaseGroup, error) {
	query := url.Values{
		"query": {fmt.Sprintf(`releasegroup:"%s"`, luceneEscape(title))},
		"limit": {"5"},
	}
	var page releaseGroupSearch
	if err := c.get("/release-group", query, &page); err != nil {
		return nil, err
	}
	if len(page.ReleaseGroups) == 0 {
		return nil, errNotFound
	}
	return &page.ReleaseGroups[0], nil
}

func (c *client) releaseGroupByRelease(releaseID string) (*releaseGroup, error) {
	var rel release
	query := url.Values{"inc": {"release-groups"}}
	if err := c.get("/release/"+releaseID, query, &rel); err != nil {
		return nil, err
	}
	if rel.ReleaseGroup == nil {
		return nil, errNotFound
	}
	return rel.ReleaseGroup, nil
}

func (c *client) lookupReleaseGroup(id string) (*releaseGroup, error) {
	var rg releaseGroup
	query := url.Values{"inc": {"tags+artist-credits"}}
	if err := c.get("/release-group/"+id, query, &rg); err != nil {
		return nil, err
	}
	return &rg, nil
}

func (c *client) searchRecording(title string) (*recording, error) {
	query := url.Values{
		"query": {fmt.Sprintf(`recording:"%s"`, luceneEscape(title))},
		"limit": {"5"},
	}
	var page recordingSearch
	if err := c.get("/recording", query, &page); err != nil {
		return nil, err
	}
	if len(page.Recordings) == 0 {
		return nil, errNotFound
	}
	return &page.Recordings[0], nil
}

func (c *client) lookupRecording(id string) (*recording, error) {
	var rec recording
	query := url.Values{"inc": {"tags+artist-credits"}}
	if err := c.get("/recording/"+id, query, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// coverArtURL points at the Cover Art Archive front image for a release
// group. The archive serves it without an API call and 404s when no art
// exists, which the server's artwork fetch tolerates.
func coverArtURL(releaseGroupID string) string {
	return coverArtBaseURL + "/release-group/" + releaseGroupID + "/front-500"
}
