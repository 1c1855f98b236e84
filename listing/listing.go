// Package listing resolves package metadata by scraping the store file
// listing at store.rg-adguard.net. It implements lhex.Resolver.
package listing

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/box-builder/lhex"
)

// DefaultEndpoint is the listing API the form is posted to.
const DefaultEndpoint = "https://store.rg-adguard.net/api/GetFiles"

// Query types understood by the listing.
const (
	TypeURL               = "url"
	TypeProductID         = "ProductId"
	TypePackageFamilyName = "PackageFamilyName"
	TypeCategoryID        = "CategoryId"
)

// Release rings understood by the listing.
const (
	RingFast   = "Fast"
	RingSlow   = "Slow"
	RingRP     = "RP"
	RingRetail = "Retail"
)

// ErrInvalidRing is returned for rings the listing does not know.
var ErrInvalidRing = errors.New("invalid ring")

// Resolver posts a query to the listing and picks the package out of the
// returned HTML table.
type Resolver struct {
	Endpoint string
	Type     string
	Query    string
	Ring     string
	// AppName must appear in the file name of the package.
	AppName string
	// Domain the download must be hosted on (any subdomain of it).
	Domain string
	Client *http.Client
}

// New returns a *Resolver looking up the WSA bundle by product id.
func New() *Resolver {
	return &Resolver{
		Endpoint: DefaultEndpoint,
		Type:     TypeProductID,
		Query:    "9P3395VX91NR",
		Ring:     RingRetail,
		AppName:  "MicrosoftCorporationII.WindowsSubsystemForAndroid",
		Domain:   "microsoft.com",
		Client:   http.DefaultClient,
	}
}

// ValidRing reports whether ring is one the listing accepts.
func ValidRing(ring string) bool {
	switch ring {
	case RingFast, RingSlow, RingRP, RingRetail:
		return true
	}
	return false
}

// Resolve fetches the listing and returns the first matching package.
func (r *Resolver) Resolve(ctx context.Context) (*lhex.PackageMetadata, error) {
	if !ValidRing(r.Ring) {
		return nil, errors.Wrapf(ErrInvalidRing, "%q", r.Ring)
	}

	form := url.Values{}
	form.Set("type", r.Type)
	form.Set("url", r.Query)
	form.Set("ring", r.Ring)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &lhex.KindError{Kind: lhex.ErrNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &lhex.KindError{Kind: lhex.ErrNetwork, Err: errors.Wrap(err, "cannot fetch package info")}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &lhex.KindError{Kind: lhex.ErrNetwork, Err: errors.Errorf("package info: server returned %v", resp.Status)}
	}

	return Parse(resp.Body, r.AppName, r.Domain)
}

// Parse reads the listing HTML and returns the first row linking to an
// msixbundle of appName hosted under domain.
func Parse(reader io.Reader, appName, domain string) (*lhex.PackageMetadata, error) {
	doc, err := html.Parse(reader)
	if err != nil {
		return nil, errors.Wrap(err, "invalid package info html")
	}

	for _, row := range findAll(doc, atom.Tr) {
		if meta := parseRow(row, appName, domain); meta != nil {
			return meta, nil
		}
	}

	return nil, errors.Wrap(lhex.ErrNotFound, "no valid package info entry found")
}

func parseRow(row *html.Node, appName, domain string) *lhex.PackageMetadata {
	links := findAll(row, atom.A)
	if len(links) == 0 {
		return nil
	}

	href, ok := attr(links[0], "href")
	if !ok {
		return nil
	}

	filename := strings.TrimSpace(text(links[0]))
	if !strings.Contains(filename, "msixbundle") || !strings.Contains(filename, appName) {
		return nil
	}

	if !hostedUnder(href, domain) {
		return nil
	}

	parts := strings.Split(filename, "_")
	cells := findAll(row, atom.Td)
	if len(parts) < 2 || len(cells) < 3 {
		return nil
	}

	return &lhex.PackageMetadata{
		URL:      href,
		Filename: filename,
		Checksum: strings.TrimSpace(text(cells[2])),
		Version:  parts[1],
	}
}

// hostedUnder compares the last labels of the link's host with domain, so
// `tlu.dl.delivery.mp.microsoft.com` is under `microsoft.com`.
func hostedUnder(link, domain string) bool {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return false
	}

	want := strings.Split(domain, ".")
	labels := strings.Split(u.Hostname(), ".")
	if len(labels) < len(want) {
		return false
	}

	return strings.EqualFold(strings.Join(labels[len(labels)-len(want):], "."), domain)
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var found []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == a {
				found = append(found, c)
			}
			walk(c)
		}
	}
	walk(n)
	return found
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func text(n *html.Node) string {
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
	return b.String()
}
