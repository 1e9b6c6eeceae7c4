package teamcity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Fetcher defines the remote API surface the rest of t9s depends on.
// Implemented by *Client; fakes implement it in tests.
type Fetcher interface {
	ListProjects(ctx context.Context, ids []string) ([]Project, error)
	ListBuildConfigs(ctx context.Context, projectID string) ([]BuildConfig, error)
	ListBuilds(ctx context.Context, buildConfigID, pageToken string) ([]Build, string, error)
	FetchLog(ctx context.Context, buildID int64) ([]byte, error)
}

// Ensure Client implements Fetcher at compile time.
var _ Fetcher = (*Client)(nil)

// Client talks to the TeamCity REST API using a bearer token.
type Client struct {
	baseURL   *url.URL
	token     string
	http      *http.Client
	userAgent string
	pageSize  int
}

const (
	defaultUserAgent = "t9s/0.1"
	defaultPageSize  = 100
	requestTimeout   = 15 * time.Second

	projectFields = "count,project(id,name,parentProjectId,webUrl,projects(project(id)),buildTypes(buildType(id)))"
	configFields  = "count,buildType(id,name,projectId,webUrl)"
	buildFields   = "count,nextHref,build(id,number,buildTypeId,status,state,statusText,branchName,webUrl,startDate,finishDate)"
)

// NewClient builds a Client for the given server URL and access token.
func NewClient(serverURL, token string) (*Client, error) {
	base, err := parseBaseURL(serverURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("teamcity token is empty")
	}
	return &Client{
		baseURL: base,
		token:   token,
		http: &http.Client{
			Timeout: requestTimeout,
		},
		userAgent: defaultUserAgent,
		pageSize:  defaultPageSize,
	}, nil
}

// ListProjects retrieves the named projects. An empty ids slice lists
// every project visible to the token.
func (c *Client) ListProjects(ctx context.Context, ids []string) ([]Project, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	values := url.Values{}
	values.Set("fields", projectFields)
	if len(ids) > 0 {
		values.Set("locator", fmt.Sprintf("item:(id:%s)", strings.Join(ids, "),item:(id:")))
	}
	rel := &url.URL{Path: "/app/rest/projects", RawQuery: values.Encode()}

	var payload projectList
	if err := c.doURL(ctx, "list projects", rel, &payload); err != nil {
		return nil, err
	}
	projects := make([]Project, 0, len(payload.Projects))
	for _, p := range payload.Projects {
		projects = append(projects, p.toProject())
	}
	return projects, nil
}

// ListBuildConfigs retrieves the build configurations under a project,
// including those of its sub-projects.
func (c *Client) ListBuildConfigs(ctx context.Context, projectID string) ([]BuildConfig, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("project id required")
	}
	values := url.Values{}
	values.Set("locator", fmt.Sprintf("affectedProject:(id:%s)", projectID))
	values.Set("fields", configFields)
	rel := &url.URL{Path: "/app/rest/buildTypes", RawQuery: values.Encode()}

	var payload buildConfigList
	if err := c.doURL(ctx, "list build configs", rel, &payload); err != nil {
		return nil, err
	}
	return payload.BuildConfig, nil
}

// ListBuilds retrieves one page of builds for a configuration, most
// recent first. An empty pageToken requests the first page; the returned
// token is non-empty while more pages remain.
func (c *Client) ListBuilds(ctx context.Context, buildConfigID, pageToken string) ([]Build, string, error) {
	if c == nil {
		return nil, "", fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(buildConfigID) == "" {
		return nil, "", fmt.Errorf("build config id required")
	}

	var rel *url.URL
	if pageToken == "" {
		values := url.Values{}
		values.Set("locator", fmt.Sprintf("buildType:%s,defaultFilter:false", buildConfigID))
		values.Set("count", strconv.Itoa(c.pageSize))
		values.Set("fields", buildFields)
		rel = &url.URL{Path: "/app/rest/builds", RawQuery: values.Encode()}
	} else {
		// Page tokens are the nextHref values the server hands back.
		next, err := url.Parse(pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("parse page token %q: %w", pageToken, err)
		}
		rel = next
	}

	var payload buildList
	if err := c.doURL(ctx, "list builds", rel, &payload); err != nil {
		return nil, "", err
	}
	return payload.Builds, payload.NextHref, nil
}

// FetchLog downloads the plain-text build log.
func (c *Client) FetchLog(ctx context.Context, buildID int64) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if buildID <= 0 {
		return nil, fmt.Errorf("build id required")
	}
	values := url.Values{}
	values.Set("buildId", strconv.FormatInt(buildID, 10))
	values.Set("plain", "true")
	rel := &url.URL{Path: "/downloadBuildLog.html", RawQuery: values.Encode()}

	resp, err := c.get(ctx, "fetch log", rel)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Op: "fetch log", Err: err}
	}
	return text, nil
}

func (c *Client) doURL(ctx context.Context, op string, rel *url.URL, dest any) error {
	resp, err := c.get(ctx, op, rel)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, op string, rel *url.URL) (*http.Response, error) {
	reqURL := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Op: op, Err: err}
	}
	if resp.StatusCode >= 400 {
		_ = resp.Body.Close()
		return nil, classifyStatus(op, resp.StatusCode)
	}
	return resp, nil
}

func parseBaseURL(serverURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(serverURL)
	if trimmed == "" {
		return nil, fmt.Errorf("teamcity url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse teamcity url %q: %w", serverURL, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
