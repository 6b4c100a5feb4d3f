package handlers

import (
	"html"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/russross/blackfriday/v2"
)

// Documents that may be served, keyed by the name used in the URL
var allowedDocs = map[string]string{
	"README": "README.md",
	"DESIGN": "DESIGN.md",
}

var docTitles = map[string]string{
	"README": "Project Overview",
	"DESIGN": "Design Notes",
}

type DocsHandler struct {
	dir string
}

// NewDocsHandler serves markdown documents found in dir
func NewDocsHandler(dir string) *DocsHandler {
	if dir == "" {
		dir = "."
	}
	return &DocsHandler{dir: dir}
}

// ServeMarkdownAsHTML serves Markdown files as HTML with consistent styling
func (h *DocsHandler) ServeMarkdownAsHTML(c *gin.Context) {
	docName := strings.ToUpper(c.Param("doc"))
	if docName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Document name required"})
		return
	}

	// Only whitelisted files, never a caller supplied path
	fileName, exists := allowedDocs[docName]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	content, err := os.ReadFile(filepath.Join(h.dir, fileName))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	extensions := blackfriday.CommonExtensions | blackfriday.AutoHeadingIDs
	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.CommonHTMLFlags,
	})
	body := blackfriday.Run(content, blackfriday.WithRenderer(renderer), blackfriday.WithExtensions(extensions))

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, wrapWithTheme(string(body), getDocumentTitle(docName)))
}

// getDocumentTitle returns a human-readable title for the document
func getDocumentTitle(docName string) string {
	if title, exists := docTitles[docName]; exists {
		return title
	}
	return strings.ReplaceAll(docName, "_", " ")
}

func wrapWithTheme(content, title string) string {
	title = html.EscapeString(title)
	return `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>` + title + ` - fin-news</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            line-height: 1.6;
            color: #333;
            background: #f8f9fa;
            padding: 20px;
        }
        .container { max-width: 1000px; margin: 0 auto; }
        .header {
            background: #0f766e;
            color: white;
            padding: 1.5rem 2rem;
            margin-bottom: 2rem;
            border-radius: 12px;
        }
        .content {
            background: white;
            padding: 3rem;
            border-radius: 12px;
            border: 1px solid #e5e7eb;
        }
        .content h2 { color: #0f766e; margin-top: 2rem; }
        .content pre {
            background: #f3f4f6;
            border-radius: 8px;
            padding: 1.5rem;
            overflow-x: auto;
        }
        .content code { font-family: 'Monaco', 'Menlo', monospace; font-size: 0.9rem; }
        .content table { width: 100%; border-collapse: collapse; margin-bottom: 1.5rem; }
        .content th, .content td { border: 1px solid #d1d5db; padding: 0.5rem; text-align: left; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h1>` + title + `</h1></div>
        <div class="content">
            ` + content + `
        </div>
    </div>
</body>
</html>`
}
