package server

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a client-visible failure. Handlers return it instead of a
// Response; the server renders it in the user language.
type HTTPError struct {
	Status   int
	Messages []Message

	// Link, when set, is offered as a follow-up to the last message.
	Link string
}

func (e *HTTPError) Error() string {
	if len(e.Messages) == 0 {
		return http.StatusText(e.Status)
	}
	return Translate("en", e.Messages[0])
}

func notFound(msgs ...Message) *HTTPError {
	return &HTTPError{Status: http.StatusNotFound, Messages: msgs}
}

func badRequest(msgs ...Message) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Messages: msgs}
}

func errorTitle(status int) Message {
	switch status {
	case http.StatusBadRequest:
		return msg("400-page-title")
	case http.StatusNotFound:
		return msg("404-page-title")
	}
	return msg("500-page-title")
}

type errorPage struct {
	Root    string
	Lang    string
	Title   string
	Details []string

	// Link wraps LinkText, the last detail, when set.
	Link     string
	LinkText string
}

type xmlError struct {
	XMLName xml.Name `xml:"error"`
	Title   string   `xml:"title"`
	Details []string `xml:"detail"`
}

// errorResponse renders err. Anything that is not an *HTTPError becomes a
// generic 500 page.
func (s *Server) errorResponse(req *RequestContext, err error, asXML bool) *Response {
	var he *HTTPError
	if !errors.As(err, &he) {
		he = &HTTPError{Status: http.StatusInternalServerError, Messages: []Message{msg("500-page-text")}}
	}

	page := errorPage{
		Root:  s.root,
		Lang:  req.UserLang,
		Title: Translate(req.UserLang, errorTitle(he.Status)),
		Link:  he.Link,
	}
	for _, m := range he.Messages {
		page.Details = append(page.Details, Translate(req.UserLang, m))
	}
	if page.Link != "" && len(page.Details) > 0 {
		last := len(page.Details) - 1
		page.LinkText = page.Details[last]
		page.Details = page.Details[:last]
	}

	var resp *Response
	if asXML {
		details := page.Details
		if page.LinkText != "" {
			details = append(details, page.LinkText)
		}
		data, mErr := xml.MarshalIndent(xmlError{Title: page.Title, Details: details}, "", "  ")
		if mErr != nil {
			data = []byte("<error/>")
		}
		resp = newContentResponse(append([]byte(xml.Header), data...), "application/xml; charset=utf-8")
	} else {
		var buf bytes.Buffer
		if tErr := s.templates.ExecuteTemplate(&buf, "error.html", page); tErr != nil {
			s.logger.Error().Err(tErr).Msg("render error page")
			buf.Reset()
			fmt.Fprintf(&buf, "<!DOCTYPE html><html><body><h1>%s</h1></body></html>", http.StatusText(he.Status))
		}
		resp = newContentResponse(buf.Bytes(), "text/html; charset=utf-8")
	}
	resp.Status = he.Status
	return resp
}
