package ksef

import (
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	dec "github.com/RexEtImperator/skaner-faktur-projekt/internal/decimal"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/model"
)

// Exchange endpoints, KSeF online API v1.
const (
	pathAuthorisationChallenge = "/online/Session/AuthorisationChallenge"
	pathInitSessionSigned      = "/online/Session/InitSessionSigned"
	pathQueryInvoiceSync       = "/online/Query/Invoice/Sync"
	pathInvoiceGet             = "/online/Invoice/Get/"

	sessionTokenHeader = "SessionToken"

	contentTypeJSON  = "application/json"
	contentTypeOctet = "application/octet-stream"
)

// KSeF schema namespaces for the session initialization document.
const (
	nsDfl = "http://ksef.mf.gov.pl/schema/gt/dfl/2021/10/01/0001"
	nsSbs = "http://ksef.mf.gov.pl/schema/gt/sbs/2021/10/01/0001"
	nsXSI = "http://www.w3.org/2001/XMLSchema-instance"
)

// challengeRequest asks for an authorization challenge for one taxpayer.
type challengeRequest struct {
	ContextIdentifier contextIdentifier `json:"contextIdentifier"`
}

type contextIdentifier struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

// challengeResponse carries the one-shot challenge and its issue time.
type challengeResponse struct {
	Challenge string    `json:"challenge"`
	Timestamp time.Time `json:"timestamp"`
}

// initSessionResponse is the reply to a signed session initialization.
type initSessionResponse struct {
	ReferenceNumber string `json:"referenceNumber"`
	SessionToken    struct {
		Token   string `json:"token"`
		Context struct {
			ContextIdentifier contextIdentifier `json:"contextIdentifier"`
		} `json:"context"`
	} `json:"sessionToken"`
}

// buildInitSessionRequest assembles the InitSessionRequest document that
// wraps the challenge, the taxpayer NIP, the FA (2) document type
// descriptor and the long-lived authorization token. The document is
// signed before it leaves the process.
func buildInitSessionRequest(challenge, nip, authToken string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("ns3:InitSessionRequest")
	root.CreateAttr("xmlns:ns2", nsDfl)
	root.CreateAttr("xmlns:ns3", nsSbs)

	ctx := root.CreateElement("ns3:Context")
	ctx.CreateElement("ns3:Challenge").SetText(challenge)

	ident := ctx.CreateElement("ns3:Identifier")
	ident.CreateAttr("xmlns:xsi", nsXSI)
	ident.CreateAttr("xsi:type", "ns2:SubjectIdentifierByNIPType")
	ident.CreateElement("ns2:Identifier").SetText(nip)

	docType := ctx.CreateElement("ns3:DocumentType")
	docType.CreateElement("ns2:Service").SetText("KSeF")
	formCode := docType.CreateElement("ns2:FormCode")
	formCode.CreateElement("ns2:SystemCode").SetText("FA (2)")
	formCode.CreateElement("ns2:SchemaVersion").SetText("1-0E")

	ctx.CreateElement("ns3:Token").SetText(authToken)

	return doc.WriteToBytes()
}

// buildInvoiceQuery assembles the incremental query criteria with a
// lower bound on the acquisition timestamp. since is a YYYY-MM-DD date.
func buildInvoiceQuery(since string, pageSize, pageOffset int) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("InvoiceQueryRequest")
	criteria := root.CreateElement("QueryCriteria")
	criteria.CreateElement("SubjectType").SetText("subject2")
	criteria.CreateElement("Type").SetText("incremental")
	criteria.CreateElement("AcquisitionTimestampThresholdFrom").SetText(since + "T00:00:00Z")

	paging := root.CreateElement("Paging")
	paging.CreateElement("PageSize").SetText(strconv.Itoa(pageSize))
	paging.CreateElement("PageOffset").SetText(strconv.Itoa(pageOffset))

	return doc.WriteToBytes()
}

// parseInvoiceHeaders extracts the header list from a sync query
// response. Parsing is tolerant: headers missing optional fields are
// kept with defaults, unparseable entries are kept with zero amounts.
func parseInvoiceHeaders(body []byte) ([]model.InvoiceHeader, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, err
	}

	var headers []model.InvoiceHeader
	for _, elem := range elementsByTag(doc.Root(), "InvoiceHeader") {
		header := model.InvoiceHeader{
			Reference:        childText(elem, "KsefReferenceNumber"),
			Number:           childText(elem, "InvoiceNumber"),
			CounterpartyName: childText(elem, "SubjectName"),
			NetAmount:        dec.FromStringOrZero(childText(elem, "Net")),
		}
		if ts := childText(elem, "AcquisitionTimestamp"); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				header.AcquiredAt = parsed
			}
		}
		headers = append(headers, header)
	}
	return headers, nil
}

// childText returns the trimmed text of the first descendant with the
// given local tag name, or "".
func childText(elem *etree.Element, tag string) string {
	if found := firstByTag(elem, tag); found != nil {
		return strings.TrimSpace(found.Text())
	}
	return ""
}

func firstByTag(elem *etree.Element, tag string) *etree.Element {
	for _, child := range elem.ChildElements() {
		if child.Tag == tag {
			return child
		}
		if found := firstByTag(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func elementsByTag(elem *etree.Element, tag string) []*etree.Element {
	if elem == nil {
		return nil
	}
	var out []*etree.Element
	for _, child := range elem.ChildElements() {
		if child.Tag == tag {
			out = append(out, child)
			continue
		}
		out = append(out, elementsByTag(child, tag)...)
	}
	return out
}
