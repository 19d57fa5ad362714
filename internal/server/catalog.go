package server

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/banux/nxt-zim/internal/catalog"
	"github.com/banux/nxt-zim/internal/opds"
	"github.com/banux/nxt-zim/internal/opds2"
)

const (
	mimeAcquisitionFeed = "application/atom+xml; profile=opds-catalog; kind=acquisition; charset=utf-8"
	mimeNavigationFeed  = "application/atom+xml; profile=opds-catalog; kind=navigation; charset=utf-8"
	mimeEntry           = "application/atom+xml; type=entry; profile=opds-catalog; charset=utf-8"
	mimeOpenSearch      = "application/opensearchdescription+xml"

	defaultCatalogCount = 10
)

type xmlMarshaler interface {
	MarshalToXML() ([]byte, error)
}

func xmlResponse(doc xmlMarshaler, mimeType string) (*Response, error) {
	data, err := doc.MarshalToXML()
	if err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return newContentResponse(data, mimeType), nil
}

// catalogPage filters the library and cuts the requested page out of the
// matches.
func (s *Server) catalogPage(req *RequestContext) ([]string, *opds.SearchInfo) {
	ids := s.lib.Filter(filterFromArgs(req, ""))
	total := len(ids)
	count := req.IntArg("count", defaultCatalogCount)
	if count == 0 {
		count = total
	}
	start := min(req.IntArg("start", 0), total)
	ids = ids[start:min(start+count, total)]
	return ids, &opds.SearchInfo{Total: total, Start: start, Count: len(ids)}
}

func (s *Server) handleCatalogRoot(req *RequestContext) (*Response, error) {
	ids := s.lib.Filter(catalog.NewFilter().Valid(true).Local(true).Remote(true))
	id := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(req.Host)).String()
	return xmlResponse(s.dumper().Feed(id, ids, nil), mimeAcquisitionFeed)
}

func (s *Server) handleCatalogSearchDescription(req *RequestContext) (*Response, error) {
	return xmlResponse(s.dumper().SearchDescription(), mimeOpenSearch)
}

func (s *Server) handleCatalogSearch(req *RequestContext) (*Response, error) {
	ids, info := s.catalogPage(req)
	return xmlResponse(s.dumper().Feed(uuid.NewString(), ids, info), mimeAcquisitionFeed)
}

func (s *Server) handleCatalogV2Root(req *RequestContext) (*Response, error) {
	return xmlResponse(s.dumper().RootV2(), mimeNavigationFeed)
}

func (s *Server) handleCatalogV2SearchDescription(req *RequestContext) (*Response, error) {
	return xmlResponse(s.dumper().SearchDescriptionV2(), mimeOpenSearch)
}

func (s *Server) handleCatalogV2Entries(partial bool) handlerFunc {
	return func(req *RequestContext) (*Response, error) {
		ids, info := s.catalogPage(req)
		if !partial && req.ArgOr("format", "") == "json" {
			return s.catalogJSON(req, ids, info)
		}
		query := url.Values{}
		for k, v := range req.Query() {
			if k != "start" && k != "count" {
				query[k] = v
			}
		}
		return xmlResponse(s.dumper().FeedV2(ids, query, partial, info), mimeAcquisitionFeed)
	}
}

// catalogJSON renders a page of entries as an OPDS 2.0 feed.
func (s *Server) catalogJSON(req *RequestContext, ids []string, info *opds.SearchInfo) (*Response, error) {
	pubs := make([]opds2.Publication, 0, len(ids))
	for _, id := range ids {
		b, err := s.lib.BookByID(id)
		if err != nil {
			continue
		}
		var name string
		if b.IsLocal() && b.IsValid() {
			name, _ = s.mapper.NameForID(id)
		}
		pubs = append(pubs, opds2.PublicationFromBook(b, s.root, name))
	}

	base := s.root + "/catalog/v2/entries"
	pageURL := func(start int) string {
		q := url.Values{}
		for k, v := range req.Query() {
			q[k] = v
		}
		q.Set("start", strconv.Itoa(start))
		q.Set("count", strconv.Itoa(info.Count))
		return base + "?" + q.Encode()
	}
	f := opds2.NewFeed("All Entries", base+"?"+req.Query().Encode(), pubs, info.Total, info.Start, info.Count)
	f.AddPaginationLinks(info.Start, info.Count, info.Total, pageURL)

	var buf bytes.Buffer
	if err := opds2.Encode(&buf, f); err != nil {
		return nil, err
	}
	return newContentResponse(buf.Bytes(), opds2.MIMEFeed+"; charset=utf-8"), nil
}

func (s *Server) handleCatalogV2Entry(req *RequestContext) (*Response, error) {
	id := req.Var("id")
	b, err := s.lib.BookByID(id)
	if err != nil {
		return nil, notFound(msg("url-not-found", "URL", req.FullURL))
	}
	e := s.dumper().BookEntry(b)
	return xmlResponse(&e, mimeEntry)
}

func (s *Server) handleCatalogV2Categories(req *RequestContext) (*Response, error) {
	return xmlResponse(s.dumper().Categories(), mimeNavigationFeed)
}

func (s *Server) handleCatalogV2Languages(req *RequestContext) (*Response, error) {
	return xmlResponse(s.dumper().Languages(), mimeNavigationFeed)
}

func (s *Server) handleCatalogV2Illustration(req *RequestContext) (*Response, error) {
	missing := notFound(msg("url-not-found", "URL", req.FullURL))
	b, err := s.lib.BookByID(req.Var("id"))
	if err != nil {
		return nil, missing
	}
	size := req.UintArg("size", opds.DefaultIllustrationSize)
	ill, err := b.Illustration(uint(size))
	if err != nil {
		return nil, missing
	}

	data, mimeType := ill.Data, ill.MimeType
	if len(data) == 0 {
		if !b.IsLocal() || !b.IsValid() {
			if ill.URL != "" {
				return newRedirectResponse(ill.URL), nil
			}
			return nil, missing
		}
		a, err := s.lib.ArchiveByID(b.ID)
		if err != nil {
			return nil, missing
		}
		if data, mimeType, err = a.Illustration(ill.Width); err != nil {
			return nil, missing
		}
	}
	return newItemResponse(req, data, mimeType), nil
}
