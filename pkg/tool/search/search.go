package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/tool"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/net/html"
)

const (
	defaultEndpoint = "https://html.duckduckgo.com/html/"
	maxResults      = 3
	noResults       = "No results found."
	userAgent       = "Mozilla/5.0 (compatible; burrow/1.0)"
)

type searchInput struct {
	Query string `json:"query"`
}

// Result is a single web search hit
type Result struct {
	Title   string
	Snippet string
	URL     string
}

type search struct {
	endpoint   string
	disabled   bool
	httpClient *http.Client
}

type Option func(*search)

// WithEndpoint sets the DuckDuckGo HTML endpoint
func WithEndpoint(endpoint string) Option {
	return func(s *search) {
		s.endpoint = endpoint
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *search) {
		s.httpClient = client
	}
}

// New creates a search_internet tool using DuckDuckGo
func New(opts ...Option) *search {
	s := &search{
		endpoint: defaultEndpoint,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (x *search) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "search-endpoint",
			Sources:     cli.EnvVars("BURROW_SEARCH_ENDPOINT"),
			Usage:       "DuckDuckGo HTML search endpoint",
			Value:       defaultEndpoint,
			Destination: &x.endpoint,
		},
		&cli.BoolFlag{
			Name:        "disable-search",
			Sources:     cli.EnvVars("BURROW_DISABLE_SEARCH"),
			Usage:       "Disable the search_internet tool",
			Destination: &x.disabled,
		},
	}
}

func (x *search) Init(ctx context.Context, client *tool.Client) (bool, error) {
	return !x.disabled && x.endpoint != "", nil
}

func (x *search) Prompt(ctx context.Context) string {
	return "Use search_internet for current events, facts, or news you do not know."
}

func (x *search) Specs() []*model.ToolSpec {
	return []*model.ToolSpec{
		{
			Name:        "search_internet",
			Description: "Search the internet for current events, facts, or news.",
			Parameters: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {
						Type:        "string",
						Description: "The search query to send to the search engine.",
					},
				},
				Required: []string{"query"},
			},
		},
	}
}

// Execute never fails on transport errors; they are reported to the model as text
func (x *search) Execute(ctx context.Context, call *model.ToolCall) (string, error) {
	var input searchInput
	if err := call.Decode(&input); err != nil {
		return "", err
	}
	if input.Query == "" {
		return "", goerr.New("query is required")
	}

	logging.From(ctx).Info("searching the web", "query", input.Query)

	results, err := x.Search(ctx, input.Query)
	if err != nil {
		logging.From(ctx).Warn("web search failed", logging.ErrAttr(err))
		return fmt.Sprintf("Search error: %v", err), nil
	}

	return Format(results), nil
}

// Format renders results as "- title: snippet" lines
func Format(results []Result) string {
	if len(results) == 0 {
		return noResults
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %s\n", r.Title, r.Snippet)
	}
	return b.String()
}

// Search queries the endpoint and returns at most three results
func (x *search) Search(ctx context.Context, query string) ([]Result, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, goerr.New("search endpoint returned error",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(body)))
	}

	return parseResults(resp.Body, maxResults)
}

// parseResults extracts result blocks from the DuckDuckGo HTML page
func parseResults(r io.Reader, limit int) ([]Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse search result page")
	}

	var results []Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if res, ok := extractResult(n); ok {
				results = append(results, res)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return results, nil
}

func extractResult(n *html.Node) (Result, bool) {
	var res Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a") && res.Title == "":
				res.Title = textOf(n)
				res.URL = attr(n, "href")
				return
			case hasClass(n, "result__snippet") && res.Snippet == "":
				res.Snippet = textOf(n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return res, res.Title != ""
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
