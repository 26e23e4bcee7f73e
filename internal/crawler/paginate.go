package crawler

import (
	"fmt"
	"strings"
)

// LinkResolver implements PaginationResolver by reading the href of the
// anchor inside the next control.
type LinkResolver struct {
	next string
}

// NewLinkResolver builds a resolver for the given next-control selector.
func NewLinkResolver(nextSelector string) *LinkResolver {
	return &LinkResolver{next: nextSelector}
}

// ResolveNext returns the absolute next-page URL, or false on the last page.
func (r *LinkResolver) ResolveNext(page PageDocument, currentURL string) (string, bool, error) {
	if page.Doc == nil {
		return "", false, nil
	}
	control := page.Doc.Find(r.next).First()
	if control.Length() == 0 {
		return "", false, nil
	}
	href, ok := control.Find("a[href]").First().Attr("href")
	if !ok {
		href, ok = control.Attr("href")
	}
	if !ok || strings.TrimSpace(href) == "" {
		return "", false, fmt.Errorf("%w: %q has no href on %s", ErrInvalidNextLink, r.next, currentURL)
	}
	next, err := resolveReference(currentURL, href)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrInvalidNextLink, err)
	}
	return next, true, nil
}
