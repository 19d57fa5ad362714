package opds

import "encoding/xml"

// OpenSearchDescription is the document advertising the catalog search
// endpoint.
type OpenSearchDescription struct {
	XMLName     xml.Name        `xml:"OpenSearchDescription"`
	Xmlns       string          `xml:"xmlns,attr"`
	ShortName   string          `xml:"ShortName"`
	Description string          `xml:"Description"`
	Encoding    string          `xml:"InputEncoding"`
	OutEncoding string          `xml:"OutputEncoding"`
	URLs        []OpenSearchURL `xml:"Url"`
}

// OpenSearchURL is a templated search URL.
type OpenSearchURL struct {
	Type     string `xml:"type,attr"`
	Template string `xml:"template,attr"`
}

const searchParams = "q={searchTerms?}&lang={language?}&name={k:name?}&tag={k:tag?}" +
	"&notag={k:notag?}&maxsize={k:maxsize?}&count={count?}&start={startIndex?}"

// SearchDescription returns the OpenSearch description of the version 1
// catalog search.
func (d *Dumper) SearchDescription() *OpenSearchDescription {
	return d.searchDescription(d.Root+"/catalog/search", MIMEAtom)
}

// SearchDescriptionV2 returns the OpenSearch description of
// /catalog/v2/entries.
func (d *Dumper) SearchDescriptionV2() *OpenSearchDescription {
	return d.searchDescription(d.v2("entries"), MIMEAcquisitionFeed)
}

func (d *Dumper) searchDescription(endpoint, mimeType string) *OpenSearchDescription {
	return &OpenSearchDescription{
		Xmlns:       NSOpenSearch,
		ShortName:   "Zim catalog search",
		Description: "Search zim files in the catalog.",
		Encoding:    "UTF-8",
		OutEncoding: "UTF-8",
		URLs: []OpenSearchURL{{
			Type:     mimeType,
			Template: endpoint + "?" + searchParams,
		}},
	}
}

// MarshalToXML serializes the description with an XML declaration.
func (o *OpenSearchDescription) MarshalToXML() ([]byte, error) {
	return marshal(o)
}
