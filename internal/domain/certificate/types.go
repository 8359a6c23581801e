package certificate

import (
	"strings"
	"time"
)

// UsedMarker is the literal token the register stores for a consumed serial.
const UsedMarker = "yes"

// DateLayout is the register and filename date format (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// DefaultBlockchain is the chain name printed on every certificate.
const DefaultBlockchain = "Polygon"

// SerialRecord is one row of the serial register.
type SerialRecord struct {
	Serial       string
	IssuedDate   string
	OwnerSurname string
	UserID       string
	Used         string
}

// Available reports whether the row can still be claimed.
func (r SerialRecord) Available() bool {
	return strings.TrimSpace(r.Serial) != "" && strings.TrimSpace(r.Used) != UsedMarker
}

// Claim carries the identity that consumes a serial.
type Claim struct {
	OwnerName string
	UserID    string
	IssueDate time.Time
}

// Apply stamps the claim onto rec and marks it used.
func (c Claim) Apply(rec SerialRecord) SerialRecord {
	rec.IssuedDate = c.IssueDate.Format(DateLayout)
	rec.OwnerSurname = Surname(c.OwnerName)
	rec.UserID = c.UserID
	rec.Used = UsedMarker
	return rec
}

// Surname returns the last whitespace-delimited token of name, or "".
func Surname(name string) string {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// RegisterStats summarizes the allocation state of a register.
type RegisterStats struct {
	Total     int `json:"total"`
	Used      int `json:"used"`
	Available int `json:"available"`
}

// Request is the form data submitted for one certificate.
type Request struct {
	OwnerName      string
	PrometheanName string
	Edition        string
	NFTID          string
	Blockchain     string
	UserID         string
	QRLink         string
	// Extras holds any additional free-text fields echoed onto the document.
	Extras map[string]string
}

// Normalize trims surrounding whitespace from every field.
func (r Request) Normalize() Request {
	r.OwnerName = strings.TrimSpace(r.OwnerName)
	r.PrometheanName = strings.TrimSpace(r.PrometheanName)
	r.Edition = strings.TrimSpace(r.Edition)
	r.NFTID = strings.TrimSpace(r.NFTID)
	r.Blockchain = strings.TrimSpace(r.Blockchain)
	r.UserID = strings.TrimSpace(r.UserID)
	r.QRLink = strings.TrimSpace(r.QRLink)
	if len(r.Extras) > 0 {
		extras := make(map[string]string, len(r.Extras))
		for k, v := range r.Extras {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			extras[k] = strings.TrimSpace(v)
		}
		r.Extras = extras
	}
	return r
}

// Issued is the handle returned for a persisted certificate.
type Issued struct {
	Serial    string
	Document  []byte
	Path      string
	FileName  string
	IssueDate time.Time
}

// SanitizeOwnerName collapses every whitespace run in name to a single underscore.
func SanitizeOwnerName(name string) string {
	return strings.Join(strings.Fields(name), "_")
}

// FileName composes {sanitizedName}_{YYYY-MM-DD}_{serial}.pdf.
func FileName(ownerName, serial string, issueDate time.Time) string {
	return SanitizeOwnerName(ownerName) + "_" + issueDate.Format(DateLayout) + "_" + serial + ".pdf"
}

// UserDir is the per-user output directory name.
func UserDir(userID string) string {
	return userID + "_certificates"
}
