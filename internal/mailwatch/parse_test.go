package mailwatch

import (
	"strings"
	"testing"
)

func crlf(s string) []byte { return []byte(strings.ReplaceAll(s, "\n", "\r\n")) }

func TestParseDecodesHeadersAndPlainBody(t *testing.T) {
	t.Parallel()
	raw := crlf(`From: =?UTF-8?B?RG9zZW4=?= <dosen@kampus.ac.id>
Subject: =?UTF-8?Q?Jadwal_Ujian?=
Content-Type: text/plain; charset=utf-8

Besok ujian jam 8.
`)
	e, err := Parse(raw, 2000)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.Sender != "Dosen <dosen@kampus.ac.id>" {
		t.Fatalf("sender = %q", e.Sender)
	}
	if e.Subject != "Jadwal Ujian" {
		t.Fatalf("subject = %q", e.Subject)
	}
	if strings.TrimSpace(e.Body) != "Besok ujian jam 8." {
		t.Fatalf("body = %q", e.Body)
	}
}

func TestParsePrefersPlainOverHTML(t *testing.T) {
	t.Parallel()
	raw := crlf(`From: a@b.c
Subject: alt
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary=AA

--AA
Content-Type: text/html; charset=utf-8

<p>html version</p>
--AA
Content-Type: text/plain; charset=utf-8

plain version
--AA--
`)
	e, err := Parse(raw, 2000)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if strings.TrimSpace(e.Body) != "plain version" {
		t.Fatalf("body = %q", e.Body)
	}
}

func TestParseHTMLFallbackWithAttachment(t *testing.T) {
	t.Parallel()
	raw := crlf(`From: a@b.c
Subject: tugas
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary=BB

--BB
Content-Type: text/html; charset=utf-8

<html><head><style>p { color: red }</style></head><body><p>Halo</p><script>track()</script><p>Kelas &amp; ruang</p></body></html>
--BB
Content-Type: application/pdf
Content-Disposition: attachment; filename="tugas.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQK
--BB--
`)
	e, err := Parse(raw, 2000)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.Body != "Halo\nKelas & ruang" {
		t.Fatalf("body = %q", e.Body)
	}
}

func TestParseAttachmentOnly(t *testing.T) {
	t.Parallel()
	raw := crlf(`From: a@b.c
Subject: scan
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary=CC

--CC
Content-Type: image/png
Content-Disposition: attachment; filename="scan.png"
Content-Transfer-Encoding: base64

iVBORw0KGgo=
--CC--
`)
	e, err := Parse(raw, 2000)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.Body != AttachmentPlaceholder {
		t.Fatalf("body = %q", e.Body)
	}
}

func TestParseTruncatesByCharacter(t *testing.T) {
	t.Parallel()
	raw := crlf("From: a@b.c\nSubject: t\nContent-Type: text/plain; charset=utf-8\n\nééééé   ééééé\n")
	e, err := Parse(raw, 8)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.Body != "ééééé\n\n...[truncated]" {
		t.Fatalf("body = %q", e.Body)
	}
}

func TestHTMLToText(t *testing.T) {
	t.Parallel()
	got := htmlToText("<div>  satu </div><STYLE>x</STYLE><br><span>dua</span>\n\n<b>tiga</b>")
	if got != "satu\ndua\ntiga" {
		t.Fatalf("htmlToText = %q", got)
	}
}
