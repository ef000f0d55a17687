// Copyright (c) 2026 Arka Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gmail

import (
	"encoding/base64"
	"strings"

	"golang.org/x/net/html"

	"github.com/arkaerp/mailsync/internal/models"
)

// Extract walks the message's MIME tree depth-first and returns the body
// candidates and attachment descriptors. The first text/plain part and the
// first text/html part each win; attachment bodies are never resolved, only
// described. When no body part matches, the provider snippet is the only
// body material available.
func Extract(msg *Message) models.Content {
	content := models.Content{Snippet: msg.Snippet}
	walkPart(msg.Payload, &content)
	return content
}

func walkPart(p Part, content *models.Content) {
	// A declared filename makes the part an attachment regardless of type.
	if p.Filename != "" {
		content.Attachments = append(content.Attachments, models.AttachmentRef{
			Filename:     p.Filename,
			MimeType:     p.MimeType,
			AttachmentID: p.Body.AttachmentID,
			Size:         p.Body.Size,
		})
		return
	}

	switch {
	case strings.HasPrefix(p.MimeType, "text/plain"):
		if content.Text == "" {
			content.Text = decodeBody(p.Body.Data)
		}
	case strings.HasPrefix(p.MimeType, "text/html"):
		if content.HTML == "" {
			content.HTML = decodeBody(p.Body.Data)
		}
	}

	for _, child := range p.Parts {
		walkPart(child, content)
	}
}

// decodeBody decodes Gmail's base64url body data. Some senders pad, some
// don't; try the unpadded alphabet first and fall back to padded.
func decodeBody(data string) string {
	if data == "" {
		return ""
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}

// ParseText returns the text the amount parser should scan: plain text when
// present, the tag-stripped HTML body otherwise, the snippet as last resort.
func ParseText(c models.Content) string {
	if c.Text != "" {
		return c.Text
	}
	if c.HTML != "" {
		return HTMLToText(c.HTML)
	}
	return c.Snippet
}

// ArchiveBody picks the canonical body to archive for a category. The
// marketplace notices are table-heavy HTML reports whose plain-text
// rendering is useless to auditors, so HTML is canonical there; the other
// two categories archive plain text.
func ArchiveBody(c models.Content, category models.Category) (bodyText, bodyHTML string) {
	if category == models.CategoryMarketplace && c.HTML != "" {
		return "", c.HTML
	}
	if c.Text != "" {
		return c.Text, ""
	}
	if c.HTML != "" {
		return "", c.HTML
	}
	return c.Snippet, ""
}

// HTMLToText strips markup from an HTML body, keeping text node content
// separated by spaces. Script and style contents are dropped.
func HTMLToText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	var b strings.Builder
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return b.String()
}
