// Package opml handles importing and exporting OPML files.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/bryan-buckman/rssynthesis/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title        string `xml:"title,omitempty"`
	DateCreated  string `xml:"dateCreated,omitempty"`
	DateModified string `xml:"dateModified,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (category folder or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Category string    `xml:"category,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Parse reads an OPML document and returns its feeds with default flags.
// A feed's category is its category attribute, else the path of the folders
// enclosing it.
func Parse(r io.Reader) ([]model.Feed, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var feeds []model.Feed
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				feed := model.NewFeed(lo.CoalesceOrEmpty(o.Text, o.Title, o.XMLURL), o.XMLURL)
				if category := firstCategory(o.Category); category != "" {
					feed.Category = category
				} else if len(path) > 0 {
					feed.Category = strings.Join(path, "/")
				}
				feeds = append(feeds, feed)
			} else if len(o.Outlines) > 0 {
				walk(o.Outlines, append(slices.Clone(path), lo.CoalesceOrEmpty(o.Text, o.Title)))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return feeds, nil
}

// OPML categories are a comma separated list of slash-delimited paths.
func firstCategory(attr string) string {
	first, _, _ := strings.Cut(attr, ",")
	return strings.Trim(strings.TrimSpace(first), "/")
}

// Export generates an OPML document with one folder per feed category.
func Export(title string, feeds []model.Feed, now time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:        title,
			DateCreated:  now.Format(time.RFC1123Z),
			DateModified: now.Format(time.RFC1123Z),
		},
	}

	byCategory := lo.GroupBy(feeds, func(f model.Feed) string { return f.Category })
	categories := lo.Keys(byCategory)
	slices.Sort(categories)

	for _, category := range categories {
		group := byCategory[category]
		slices.SortFunc(group, func(a, b model.Feed) int { return strings.Compare(a.Name, b.Name) })

		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:  category,
			Title: category,
			Outlines: lo.Map(group, func(f model.Feed, _ int) Outline {
				return Outline{
					Text:     f.Name,
					Title:    f.Name,
					Type:     f.Type,
					XMLURL:   f.URL,
					Category: category,
				}
			}),
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
