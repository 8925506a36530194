// Package export assembles generated output for the two outward-facing
// boundaries: a file bundle handed to the external packager, and a publish
// payload handed to the external content store. Both carry content digests
// computed over canonical JSON, so a consumer can verify integrity and
// detect unchanged artifacts without diffing text.
package export

import (
	"fmt"
	"time"

	"github.com/h-ibaldo/linebasis-sub003/pkg/canonical"
	"github.com/h-ibaldo/linebasis-sub003/pkg/codegen"
	"github.com/h-ibaldo/linebasis-sub003/pkg/design"
)

// File is one artifact in a bundle.
type File struct {
	Path   string `json:"path"`
	Body   string `json:"-"`
	Digest string `json:"digest"`
	Size   int    `json:"size"`
}

// ManifestPage records the generated file for one artboard.
type ManifestPage struct {
	ArtboardID string `json:"artboard_id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Digest     string `json:"digest"`
}

// Manifest describes a bundle's contents for the external packager.
type Manifest struct {
	ProjectID   string         `json:"project_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Pages       []ManifestPage `json:"pages"`
	Stylesheet  string         `json:"stylesheet"`
	Digest      string         `json:"digest"`
}

// Bundle is everything the external packager needs to produce an archive.
type Bundle struct {
	Manifest Manifest
	Files    []File
}

// PublishPayload is handed to the external content store: the generated
// text plus the snapshot and event log that allow future re-editing of the
// published page.
type PublishPayload struct {
	ProjectID      string         `json:"project_id"`
	PublishedAt    time.Time      `json:"published_at"`
	Pages          []codegen.Page `json:"pages"`
	Stylesheet     string         `json:"stylesheet"`
	Snapshot       *design.State  `json:"snapshot"`
	Events         []design.Event `json:"events"`
	SnapshotDigest string         `json:"snapshot_digest"`
}

// NewBundle lays out a generation result as files plus a manifest. Page
// files are named by slug; the stylesheet is shared across pages.
func NewBundle(projectID string, res *codegen.Result, now time.Time) (*Bundle, error) {
	const stylesheetPath = "styles.css"

	b := &Bundle{
		Manifest: Manifest{
			ProjectID:   projectID,
			GeneratedAt: now.UTC(),
			Stylesheet:  stylesheetPath,
		},
	}

	seen := make(map[string]int)
	for _, page := range res.Pages {
		path := page.Slug + ".html"
		// Same-named artboards slug identically; suffix repeats in order.
		if n := seen[path]; n > 0 {
			path = fmt.Sprintf("%s-%d.html", page.Slug, n+1)
		}
		seen[page.Slug+".html"]++
		digest := canonical.HashBytes([]byte(page.Markup))
		b.Files = append(b.Files, File{
			Path:   path,
			Body:   page.Markup,
			Digest: digest,
			Size:   len(page.Markup),
		})
		b.Manifest.Pages = append(b.Manifest.Pages, ManifestPage{
			ArtboardID: page.ArtboardID,
			Name:       page.Name,
			Path:       path,
			Digest:     digest,
		})
	}

	b.Files = append(b.Files, File{
		Path:   stylesheetPath,
		Body:   res.Stylesheet,
		Digest: canonical.HashBytes([]byte(res.Stylesheet)),
		Size:   len(res.Stylesheet),
	})

	digest, err := canonical.Hash(b.Manifest.Pages)
	if err != nil {
		return nil, fmt.Errorf("digest manifest: %w", err)
	}
	b.Manifest.Digest = digest
	return b, nil
}

// NewPublishPayload assembles the publishing-boundary handoff for one
// project: generated text plus the full editing history.
func NewPublishPayload(projectID string, res *codegen.Result, snapshot *design.State, events []design.Event, now time.Time) (*PublishPayload, error) {
	digest, err := snapshot.Hash()
	if err != nil {
		return nil, fmt.Errorf("digest snapshot: %w", err)
	}
	return &PublishPayload{
		ProjectID:      projectID,
		PublishedAt:    now.UTC(),
		Pages:          res.Pages,
		Stylesheet:     res.Stylesheet,
		Snapshot:       snapshot,
		Events:         events,
		SnapshotDigest: digest,
	}, nil
}
