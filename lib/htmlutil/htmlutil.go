package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.ElementNode {
		switch node.Data {
		case "script", "style", "noscript", "template":
			return
		}
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		buffer.WriteByte(' ')
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || c == '\n' {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText collapses whitespace runs and strips non-printable characters.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = innerWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// LooksLikeHtml reports whether the payload is an html document or fragment
// rather than json or plain text.
func LooksLikeHtml(payload string) bool {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" || trimmed[0] != '<' {
		return false
	}
	lower := strings.ToLower(trimmed[:min(len(trimmed), 256)])
	return strings.HasPrefix(lower, "<!doctype html") ||
		strings.Contains(lower, "<html") ||
		strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<div") ||
		strings.Contains(lower, "<table")
}

// VisibleText returns the human readable text of an html payload, the body
// if there is one, the whole document otherwise.
func VisibleText(payload string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(payload))
	if err != nil {
		return "", err
	}
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var out strings.Builder
	for _, n := range root.Nodes {
		out.WriteString(GetText(n))
	}
	return CleanText(out.String()), nil
}
