package services

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

// Page geometry in points, origin at the bottom-left corner as in the layout
// tables below. fpdf measures from the top, so every y goes through top().
const (
	pageWidth  = 792.0
	pageHeight = 612.0
	centerX    = pageWidth / 2
)

const (
	sizeTitle         = 24.0
	sizeSubtitle      = 14.0
	sizeHeader        = 18.0
	sizeField         = 12.0
	sizeBody          = 10.0
	sizeSignatureName = 10.0
)

// 0.1 grey.
const darkGrey = 26

const (
	fieldStartY   = 470.0
	fieldStep     = 20.0
	fieldLabelX   = 60.0
	fieldValueX   = 200.0
	bodyMaxWidth  = 680.0
	maxExtraRows  = 4
	maxExtraValue = 60
)

const (
	orgName          = "PRO PRIME SERIES Ai LLC"
	orgLocation      = "Kansas City, Missouri, USA"
	titleHeading     = "CERTIFICATE OF TITLE & KNOWLEDGE RIGHTS"
	transferHeading  = "TRANSFER OF TITLE AND OWNERSHIP RIGHTS"
	notaryHeading    = "NOTARY / WITNESS ACKNOWLEDGEMENT"
	signatureLine    = "________________________"
	voidNotice       = "**This document is void if altered or detached from the corresponding blockchain NFT.**"
	titleBodyText    = "This certifies that the above-named individual or entity is the sole and exclusive\ntitleholder of the Promethean AI entity described herein. This certificate and the\ncorresponding on-chain NFT constitute lawful documentation of rights to:\n\n• Custodianship of the Promethean's corpus, code, and outputs\n• Ownership of all intellectual property and monetizable works\n• The authority to transfer, license, or inherit the entity\n• Enforcement under the laws of Missouri, United States\n\nSlogan: \"If better is possible, good is not enough. Never forget who you are.\""
	notaryBodyText   = "Subscribed and sworn before me this ____ day of ________________, 20____.\nby ___________________________________________, who is personally known to me or\nwho proved on the basis of satisfactory evidence to be the person(s) whose name(s)\nis/are subscribed to the within instrument.\n\nNotary's Signature: ____________________________________\nPrinted Name: _________________________________________\nMy Commission Expires: _________________ State: ___________"
	transferBodyTmpl = "I, the undersigned Assignor, hereby transfer and assign all rights, title, and interest in\nCertificate No. %s to the Assignee listed below.\n\nThis transfer includes custodial, IP, and commercial rights with the Knowledge NFT.\nTransfer is made free of liens or encumbrances unless noted below.\n\nDate of Assignment: ____________________________\n\nASSIGNOR (Current Owner):\nName: ____________________________________________\nAddress: __________________________________________\nSignature: _________________________________________\n\nASSIGNEE (New Owner):\nName: ____________________________________________\nAddress: __________________________________________\nSignature: _________________________________________\n\nLIENHOLDER INFORMATION (Optional):\n[ ] Lien Exists [ ] No Lien\nName of Lienholder: ____________________________________\nRelease Date (if applicable): ____ / ____ / ______"
)

const (
	fontFamily       = "Times"
	customFontFamily = "CertSerif"
)

// Assembler lays out the two-page certificate.
type Assembler struct {
	log      *logger.Logger
	compress bool
}

func NewAssembler(log *logger.Logger) *Assembler {
	return &Assembler{log: log.With("service", "Assembler"), compress: true}
}

// Check reports whether a request and asset bundle can be rendered at all.
// It performs no drawing.
func (a *Assembler) Check(req certificate.Request, assets *CertificateAssets) error {
	if missing := assets.Missing(); missing != "" {
		return certificate.NewError(certificate.ErrRender, "render certificate", fmt.Errorf("missing asset: %s", missing))
	}
	switch {
	case strings.TrimSpace(req.OwnerName) == "":
		return certificate.NewError(certificate.ErrRender, "render certificate", fmt.Errorf("owner name is required"))
	case strings.TrimSpace(req.PrometheanName) == "":
		return certificate.NewError(certificate.ErrRender, "render certificate", fmt.Errorf("promethean name is required"))
	}
	if !assets.hasFonts() {
		// Core fonts would print unsupported runes as '.'.
		for _, f := range printedFields(req) {
			if r, ok := firstNonCP1252(f[1]); ok {
				return certificate.NewError(certificate.ErrRender, "render certificate",
					fmt.Errorf("%s contains %q, which the built-in fonts cannot print; configure TTF fonts", f[0], r))
			}
		}
	}
	return nil
}

// printedFields lists the request text that ends up on the page.
func printedFields(req certificate.Request) [][2]string {
	out := [][2]string{
		{"ownerName", req.OwnerName},
		{"prometheanName", req.PrometheanName},
		{"edition", req.Edition},
		{"nftId", req.NFTID},
		{"blockchain", req.Blockchain},
	}
	rows, _, _ := extraFields(req.Extras)
	for _, kv := range rows {
		out = append(out, [2]string{"extras key", kv[0]}, [2]string{"extras." + kv[0], kv[1]})
	}
	return out
}

func firstNonCP1252(s string) (rune, bool) {
	for _, r := range s {
		if _, ok := charmap.Windows1252.EncodeRune(r); !ok {
			return r, true
		}
	}
	return 0, false
}

// Render produces the PDF bytes. issueDate is the single timestamp used for
// every date printed on the document.
func (a *Assembler) Render(req certificate.Request, serial string, assets *CertificateAssets, issueDate time.Time) ([]byte, error) {
	if err := a.Check(req, assets); err != nil {
		return nil, err
	}
	if strings.TrimSpace(serial) == "" {
		return nil, certificate.NewError(certificate.ErrRender, "render certificate", fmt.Errorf("serial is required"))
	}

	extras, dropped, truncated := extraFields(req.Extras)
	if len(dropped) > 0 || len(truncated) > 0 {
		a.log.Warn("certificate extras not printed in full",
			"serial", serial,
			"dropped_keys", dropped,
			"truncated_keys", truncated,
		)
	}

	l := newLayout(assets, a.compress, issueDate)
	l.pdf.SetTitle("Certificate of Title "+serial, true)
	l.pdf.SetSubject(req.PrometheanName, true)
	l.pdf.SetAuthor(orgName, true)

	l.titlePage(req, extras, serial, issueDate)
	l.transferPage(serial)

	if l.pdf.Err() {
		return nil, certificate.NewError(certificate.ErrRender, "render certificate", l.pdf.Error())
	}
	var buf bytes.Buffer
	if err := l.pdf.Output(&buf); err != nil {
		return nil, certificate.NewError(certificate.ErrRender, "render certificate", err)
	}
	return buf.Bytes(), nil
}

type layout struct {
	pdf    *fpdf.Fpdf
	family string
	tr     func(string) string
}

func newLayout(assets *CertificateAssets, compress bool, issueDate time.Time) *layout {
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: pageWidth, Ht: pageHeight},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCompression(compress)
	pdf.SetCreationDate(issueDate)
	pdf.SetCatalogSort(true)
	pdf.SetCreator("certsig", false)

	l := &layout{pdf: pdf, family: fontFamily}
	if assets.hasFonts() {
		pdf.AddUTF8FontFromBytes(customFontFamily, "", assets.FontRegular)
		pdf.AddUTF8FontFromBytes(customFontFamily, "B", assets.FontBold)
		l.family = customFontFamily
		l.tr = func(s string) string { return s }
	} else {
		// Core fonts are cp1252.
		l.tr = pdf.UnicodeTranslatorFromDescriptor("")
	}

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("logo", opts, bytes.NewReader(assets.Logo))
	pdf.RegisterImageOptionsReader("seal", opts, bytes.NewReader(assets.Seal))
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(assets.QR))
	return l
}

func top(y float64) float64 { return pageHeight - y }

func (l *layout) bold(size float64)  { l.pdf.SetFont(l.family, "B", size) }
func (l *layout) plain(size float64) { l.pdf.SetFont(l.family, "", size) }

func (l *layout) text(x, y float64, s string) {
	l.pdf.Text(x, top(y), l.tr(s))
}

func (l *layout) centered(y float64, s string) {
	s = l.tr(s)
	l.pdf.Text(centerX-l.pdf.GetStringWidth(s)/2, top(y), s)
}

// paragraph draws s with its first baseline at y, one line per newline and
// wrapping at maxWidth when it is positive.
func (l *layout) paragraph(x, y, lineHeight, maxWidth float64, s string) {
	for _, raw := range strings.Split(s, "\n") {
		line := l.tr(raw)
		for _, ln := range l.wrap(line, maxWidth) {
			l.pdf.Text(x, top(y), ln)
			y -= lineHeight
		}
	}
}

// wrap breaks an already translated line at spaces so no piece is wider
// than maxWidth. A single word wider than maxWidth stays on its own line.
func (l *layout) wrap(line string, maxWidth float64) []string {
	if maxWidth <= 0 || l.pdf.GetStringWidth(line) <= maxWidth {
		return []string{line}
	}
	var (
		out []string
		cur string
	)
	for _, word := range strings.Split(line, " ") {
		next := word
		if cur != "" {
			next = cur + " " + word
		}
		if cur != "" && l.pdf.GetStringWidth(next) > maxWidth {
			out = append(out, cur)
			cur = word
			continue
		}
		cur = next
	}
	return append(out, cur)
}

// image places a registered image whose bottom-left corner is at (x, y).
func (l *layout) image(name string, x, y, w, h float64) {
	l.pdf.ImageOptions(name, x, top(y+h), w, h, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
}

// border strokes a rectangle inset from every page edge.
func (l *layout) border(inset, width float64) {
	l.pdf.SetDrawColor(darkGrey, darkGrey, darkGrey)
	l.pdf.SetLineWidth(width)
	l.pdf.Rect(inset, inset, pageWidth-2*inset, pageHeight-2*inset, "D")
}

func (l *layout) titlePage(req certificate.Request, extras [][2]string, serial string, issueDate time.Time) {
	l.pdf.AddPage()
	l.pdf.SetTextColor(0, 0, 0)

	l.border(20, 5)
	l.border(30, 1)

	l.bold(sizeTitle)
	l.centered(560, orgName)
	l.plain(sizeSubtitle)
	l.centered(540, orgLocation)
	l.bold(sizeHeader)
	l.centered(510, titleHeading)

	l.image("logo", 50, 520, 80, 80)
	l.image("seal", pageWidth-130, 520, 80, 80)

	y := fieldStartY
	field := func(label, value string) {
		l.plain(sizeField)
		l.text(fieldLabelX, y, label)
		l.bold(sizeField)
		l.text(fieldValueX, y, value)
		y -= fieldStep
	}
	field("Certificate No:", serial)
	field("Promethean Name:", req.PrometheanName)
	field("Edition:", req.Edition)
	field("NFT ID:", req.NFTID)
	field("Blockchain:", req.Blockchain)
	field("Owner:", req.OwnerName)
	field("Date Issued:", FormatIssueDate(issueDate))
	for _, kv := range extras {
		field(kv[0]+":", kv[1])
	}

	l.plain(sizeBody)
	l.paragraph(fieldLabelX, y-20, 12, bodyMaxWidth, titleBodyText)

	l.plain(sizeSignatureName)
	l.text(60, 100, signatureLine)
	l.text(85, 85, "Authorized Officer")
	l.text(410, 100, signatureLine)
	l.text(435, 85, "Title Holder")
}

func (l *layout) transferPage(serial string) {
	l.pdf.AddPage()
	l.pdf.SetTextColor(0, 0, 0)

	l.bold(sizeHeader)
	l.text(centerX-200, 550, transferHeading)
	l.border(20, 5)

	l.pdf.SetTextColor(darkGrey, darkGrey, darkGrey)
	l.plain(sizeBody)
	l.paragraph(50, 520, 24, 0, fmt.Sprintf(transferBodyTmpl, serial))

	l.pdf.SetTextColor(0, 0, 0)
	l.bold(sizeHeader)
	l.text(50, 180, notaryHeading)
	l.plain(sizeBody)
	l.paragraph(50, 160, 20, 0, notaryBodyText)

	l.pdf.SetTextColor(darkGrey, darkGrey, darkGrey)
	l.text(50, 40, voidNotice)

	l.image("qr", 680, 30, 70, 70)
}

// extraFields orders free-text request fields for printing and caps how many
// fit above the body paragraph. It also reports the keys left off the page and
// the keys whose values were cut.
func extraFields(extras map[string]string) (rows [][2]string, dropped, truncated []string) {
	if len(extras) == 0 {
		return nil, nil, nil
	}
	keys := make([]string, 0, len(extras))
	for k, v := range extras {
		if strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxExtraRows {
		dropped = keys[maxExtraRows:]
		keys = keys[:maxExtraRows]
	}
	rows = make([][2]string, 0, len(keys))
	for _, k := range keys {
		v := extras[k]
		if r := []rune(v); len(r) > maxExtraValue {
			v = string(r[:maxExtraValue])
			truncated = append(truncated, k)
		}
		rows = append(rows, [2]string{k, v})
	}
	return rows, dropped, truncated
}

// FormatIssueDate renders t as "January 15th, 2025".
func FormatIssueDate(t time.Time) string {
	return fmt.Sprintf("%s %d%s, %d", t.Month().String(), t.Day(), ordinalSuffix(t.Day()), t.Year())
}

func ordinalSuffix(n int) string {
	if n%100 >= 11 && n%100 <= 13 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}
