package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/liliang-cn/hive/pkg/memory"
)

// WebSearchTool fetches a page and extracts its title and visible text, a
// deliberately thin stand-in for the web-search capability a Worker's
// "research" role may invoke — no search-engine scraping, just the fetch +
// parse half, via golang.org/x/net/html rather than a regex scrape.
type WebSearchTool struct {
	Client *http.Client
}

func (w WebSearchTool) httpClient() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return &http.Client{Timeout: 20 * time.Second}
}

func (WebSearchTool) Name() string { return "fetch_page" }

func (WebSearchTool) Description() string {
	return "Fetches a URL and returns its page title and visible text content."
}

func (w WebSearchTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	raw, _ := args["url"].(string)
	if strings.TrimSpace(raw) == "" {
		return Result{}, fmt.Errorf("fetch_page: url argument is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		return Result{}, fmt.Errorf("fetch_page: invalid url %q", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := w.httpClient().Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch_page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("fetch_page: %s returned status %d", raw, resp.StatusCode)
	}

	title, text, err := extractTitleAndText(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("fetch_page: parse %s: %w", raw, err)
	}

	const maxChars = 4000
	if len(text) > maxChars {
		text = text[:maxChars] + "...[truncated]"
	}

	return Result{
		Output: fmt.Sprintf("Title: %s\n\n%s", title, text),
		Data:   map[string]any{"url": raw, "title": title},
	}, nil
}

func extractTitleAndText(r io.Reader) (title, text string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = n.FirstChild.Data
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				sb.WriteString(trimmed)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return title, strings.TrimSpace(sb.String()), nil
}

// FileReadTool reads a file from an allowlisted base directory. It stays on
// the standard library: reading bytes off local disk within a fixed root is
// exactly what os/io.ReadFile are for, and no library in the example pack
// offers a sandboxed-read abstraction worth adopting over it.
type FileReadTool struct {
	BaseDir string
}

func (FileReadTool) Name() string { return "read_file" }

func (FileReadTool) Description() string {
	return "Reads a text file within the configured working directory."
}

func (f FileReadTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	rel, _ := args["path"].(string)
	if strings.TrimSpace(rel) == "" {
		return Result{}, fmt.Errorf("read_file: path argument is required")
	}

	full := filepath.Join(f.BaseDir, filepath.Clean("/"+rel))
	if !strings.HasPrefix(full, filepath.Clean(f.BaseDir)+string(os.PathSeparator)) && full != filepath.Clean(f.BaseDir) {
		return Result{}, fmt.Errorf("read_file: path %q escapes base directory", rel)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return Result{}, fmt.Errorf("read_file: %w", err)
	}
	return Result{Output: string(data)}, nil
}

// MemorySearchTool lets a Worker consult prior task outcomes recorded by the
// Manager's decomposition cache.
type MemorySearchTool struct {
	Sink memory.Sink
}

func (MemorySearchTool) Name() string { return "recall_similar_task" }

func (MemorySearchTool) Description() string {
	return "Looks up a previously completed task whose goal resembles the given query."
}

func (m MemorySearchTool) Call(ctx context.Context, args map[string]any) (Result, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return Result{}, fmt.Errorf("recall_similar_task: query argument is required")
	}
	rec, err := m.Sink.FindSimilarDecomposition(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("recall_similar_task: %w", err)
	}
	if rec == nil {
		return Result{Output: "no similar prior task found"}, nil
	}
	return Result{
		Output: fmt.Sprintf("Prior goal: %s\nSummary: %s", rec.Goal, rec.Summary),
		Data:   map[string]any{"task_id": rec.TaskID},
	}, nil
}
