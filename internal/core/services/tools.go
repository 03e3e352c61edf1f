package services

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

// KnowledgeBase is a small in-memory document index used by the built-in
// research and policy tools. Deployments register documents at wiring time;
// lookups score by term overlap.
type KnowledgeBase struct {
	mu   sync.RWMutex
	docs map[string]string // title -> body
}

// NewKnowledgeBase creates an empty index.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{docs: make(map[string]string)}
}

// Add registers or replaces a document.
func (kb *KnowledgeBase) Add(title, body string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.docs[title] = body
}

// Search returns up to limit documents ranked by term overlap with the query.
func (kb *KnowledgeBase) Search(query string, limit int) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	type scored struct {
		title string
		score int
	}
	var hits []scored
	for title, body := range kb.docs {
		haystack := strings.ToLower(title + " " + body)
		score := 0
		for _, t := range terms {
			if strings.Contains(haystack, t) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{title, score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].title < hits[j].title
	})

	if limit <= 0 || limit > len(hits) {
		limit = len(hits)
	}
	out := make([]string, 0, limit)
	for _, h := range hits[:limit] {
		out = append(out, h.title+"\n"+kb.docs[h.title])
	}
	return out
}

// NewKnowledgeSearchTool creates the built-in research tool over a knowledge base.
func NewKnowledgeSearchTool(kb *KnowledgeBase) *domain.Tool {
	return &domain.Tool{
		Name:        "knowledge_search",
		Description: "Searches the internal knowledge base for relevant documents. Use before answering questions about products, procedures, or domain facts.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search terms describing what you need to know.",
				},
			},
			Required: []string{"query"},
		},
		Execute: func(_ context.Context, params map[string]any) (string, error) {
			query, _ := params["query"].(string)
			results := kb.Search(query, 3)
			if len(results) == 0 {
				return "No matching documents found.", nil
			}
			return strings.Join(results, "\n---\n"), nil
		},
	}
}

// NewPolicyLookupTool creates the built-in policy tool. It shares the
// knowledge base but filters to policy documents (titles with a "policy:"
// prefix).
func NewPolicyLookupTool(kb *KnowledgeBase) *domain.Tool {
	return &domain.Tool{
		Name:        "policy_lookup",
		Description: "Looks up business policies and rules that constrain what actions are allowed. Consult before performing restricted operations.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]any{
				"topic": map[string]any{
					"type":        "string",
					"description": "The policy topic, e.g. 'refunds' or 'cancellations'.",
				},
			},
			Required: []string{"topic"},
		},
		Execute: func(_ context.Context, params map[string]any) (string, error) {
			topic, _ := params["topic"].(string)
			results := kb.Search("policy: "+topic, 2)
			var filtered []string
			for _, r := range results {
				if strings.HasPrefix(strings.ToLower(r), "policy:") {
					filtered = append(filtered, r)
				}
			}
			if len(filtered) == 0 {
				return "No policy found for this topic; default rules apply.", nil
			}
			return strings.Join(filtered, "\n---\n"), nil
		},
	}
}

// NewCurrentTimeTool creates a trivial task tool reporting the current time.
func NewCurrentTimeTool() *domain.Tool {
	return &domain.Tool{
		Name:        "current_time",
		Description: "Returns the current date and time in RFC3339 format.",
		Execute: func(_ context.Context, _ map[string]any) (string, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	}
}

// isSSRFTarget checks if a URL targets internal/metadata endpoints.
func isSSRFTarget(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true // block unparseable URLs
	}

	host := parsed.Hostname()

	blocked := []string{
		"localhost",
		"127.0.0.1",
		"0.0.0.0",
		"[::1]",
		"::1",
		"169.254.169.254", // AWS metadata
		"metadata.google.internal",
		"metadata.google",
	}
	for _, b := range blocked {
		if strings.EqualFold(host, b) {
			return true
		}
	}

	ip := net.ParseIP(host)
	if ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return true
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return true
	}

	return false
}

// NewWebFetchTool creates a tool that fetches content from a URL.
func NewWebFetchTool() *domain.Tool {
	return &domain.Tool{
		Name:        "web_fetch",
		Description: "Fetches the text content of a public web page URL. Max 1MB response.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The URL to fetch (e.g., 'https://example.com/article').",
				},
			},
			Required: []string{"url"},
		},
		Execute: func(ctx context.Context, params map[string]any) (string, error) {
			rawURL, _ := params["url"].(string)

			if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
				rawURL = "https://" + rawURL
			}
			if isSSRFTarget(rawURL) {
				return "", fmt.Errorf("URL denied: cannot fetch internal/private addresses")
			}

			fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(fetchCtx, "GET", rawURL, nil)
			if err != nil {
				return "", fmt.Errorf("invalid URL: %w", err)
			}
			req.Header.Set("User-Agent", "conductor/1.0 (Agent Web Fetch)")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,*/*")

			client := &http.Client{
				Timeout: 30 * time.Second,
				CheckRedirect: func(req *http.Request, via []*http.Request) error {
					if isSSRFTarget(req.URL.String()) {
						return fmt.Errorf("redirect to internal address denied")
					}
					if len(via) >= 5 {
						return fmt.Errorf("too many redirects")
					}
					return nil
				},
			}

			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("fetch failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return "", fmt.Errorf("read body: %w", err)
			}
			return string(body), nil
		},
	}
}
