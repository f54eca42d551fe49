package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tonimelisma/msod-stat/internal/model"
)

// deltaPreferHeader requests that the Graph API include remote/shared items
// using stable alias IDs in delta responses. Without this header, Personal
// accounts may receive incomplete delta results for shared folders.
var deltaPreferHeader = http.Header{
	"Prefer": {"deltashowremoteitemsaliasid"},
}

// driveItemResponse mirrors the subset of Graph API driveItem JSON the delta
// feed needs. Unexported — callers receive normalized model.Item values.
type driveItemResponse struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Size            uint64           `json:"size"`
	ParentReference *parentRef       `json:"parentReference"`
	File            *fileFacet       `json:"file"`
	Folder          *json.RawMessage `json:"folder"`
	Package         *json.RawMessage `json:"package"`
	Deleted         *json.RawMessage `json:"deleted"`
}

type parentRef struct {
	Path      string `json:"path"`
	DriveType string `json:"driveType"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	SHA1Hash     string `json:"sha1Hash"`
	QuickXorHash string `json:"quickXorHash"`
}

// deltaResponse mirrors the Graph API delta response JSON structure.
// Exactly one of NextLink/DeltaLink is present per spec.
type deltaResponse struct {
	Value     []driveItemResponse `json:"value"`
	NextLink  string              `json:"@odata.nextLink"`  //nolint:tagliatelle // OData annotation key
	DeltaLink string              `json:"@odata.deltaLink"` //nolint:tagliatelle // OData annotation key
}

// deltaHTTPPrefix is the scheme prefix used to detect full URL tokens
// returned by the Graph API delta endpoint, as opposed to the bootstrap URL
// supplied verbatim by the caller (also a full URL, so this only matters for
// distinguishing "use as-is" from "strip to a relative path").
const deltaHTTPPrefix = "http"

// toItem normalizes a Graph API driveItem response into a model.Item.
// Folder and Package carry no payload fields beyond presence of their key —
// the tagged union is discriminated purely by which facet is non-nil.
func (d *driveItemResponse) toItem() model.Item {
	item := model.Item{
		ID:      d.ID,
		Name:    d.Name,
		Size:    d.Size,
		Deleted: d.Deleted != nil,
	}

	if d.ParentReference != nil {
		item.Parent = &model.Parent{
			Path:      d.ParentReference.Path,
			DriveType: model.DriveType(d.ParentReference.DriveType),
		}
	}

	switch {
	case d.File != nil:
		item.ItemType = model.ItemType{Kind: model.KindFile, MimeType: d.File.MimeType}
		if d.File.Hashes != nil {
			item.ItemType.Hashes = &model.Hashes{
				SHA1:     d.File.Hashes.SHA1Hash,
				QuickXor: d.File.Hashes.QuickXorHash,
			}
		}
	case d.Folder != nil:
		item.ItemType = model.ItemType{Kind: model.KindFolder}
	case d.Package != nil:
		item.ItemType = model.ItemType{Kind: model.KindPackage}
	}

	return item
}

// DeltaPage is one page of the delta feed: a batch of items plus either a
// continuation link (more pages follow) or a terminal delta link (done).
type DeltaPage struct {
	Items     []model.Item
	NextLink  string
	DeltaLink string
}

// Delta fetches one page of delta changes for a drive. link is either the
// bootstrap URL, a persisted delta_link, or a prior page's nextLink — all
// full URLs. HTTP 410 (Gone) or 401 (Unauthorized) surfaces as the
// corresponding sentinel error via classifyStatus; the caller (internal/delta
// Fetcher) is responsible for cursor-reset handling.
func (c *Client) Delta(ctx context.Context, link string) (*DeltaPage, error) {
	path, err := c.deltaPath(link)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetching delta page", slog.String("path", path))

	resp, err := c.DoWithHeaders(ctx, http.MethodGet, path, nil, deltaPreferHeader)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dr deltaResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("graph: decoding delta response: %w", err)
	}

	items := make([]model.Item, 0, len(dr.Value))
	for i := range dr.Value {
		items = append(items, dr.Value[i].toItem())
	}

	c.logger.Debug("fetched delta page",
		slog.Int("count", len(items)),
		slog.Bool("has_next_link", dr.NextLink != ""),
		slog.Bool("has_delta_link", dr.DeltaLink != ""),
	)

	return &DeltaPage{Items: items, NextLink: dr.NextLink, DeltaLink: dr.DeltaLink}, nil
}

// deltaPath converts a full delta URL into a path relative to the client's
// base URL. The bootstrap and persisted links point at
// "https://graph.microsoft.com/v1.0/me/drives/..." while the configured
// baseURL is typically ".../v1.0" — stripBaseURL handles the common prefix.
func (c *Client) deltaPath(link string) (string, error) {
	if !strings.HasPrefix(link, deltaHTTPPrefix) {
		return "", fmt.Errorf("graph: delta link %q is not an absolute URL", link)
	}

	path, err := c.stripBaseURL(link)
	if err != nil {
		return "", fmt.Errorf("graph: invalid delta link: %w", err)
	}

	return path, nil
}

// stripBaseURL removes the client's base URL prefix from a full URL,
// returning the path + query string for use with Do().
func (c *Client) stripBaseURL(fullURL string) (string, error) {
	if !strings.HasPrefix(fullURL, c.baseURL) {
		return "", fmt.Errorf("graph: URL %q does not match base URL %q", fullURL, c.baseURL)
	}

	return fullURL[len(c.baseURL):], nil
}
