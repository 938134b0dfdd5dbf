// Package sink owns the output CSV and the in-run dedup state. All writes
// serialize through one CSV value; every accepted record is flushed to disk
// before the next is attempted, so an interrupted run keeps everything
// accepted so far.
package sink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/imovelink/broker-contacts/internal/model"
)

// header is the fixed output column order.
var header = []string{
	"street", "number", "name", "document", "city", "neighborhood", "uf",
	"phone_number", "whatsapp_url",
}

// dedupKey identifies a record within a run. Components are
// whitespace-trimmed before comparison.
type dedupKey struct {
	street   string
	number   string
	phone    string
	document string
}

// Stats reports the sink's progress.
type Stats struct {
	File     string `json:"file"`
	Written  int    `json:"written"`
	Distinct int    `json:"distinct"`
}

// CSV is the single shared writer for a run. Safe for concurrent use.
type CSV struct {
	mu      sync.Mutex
	dir     string
	file    *os.File
	w       *csv.Writer
	name    string
	seen    map[dedupKey]struct{}
	written int
	closed  bool
}

// New returns a sink that will create its output file under dir on first use.
func New(dir string) *CSV {
	return &CSV{
		dir:  dir,
		seen: make(map[dedupKey]struct{}),
	}
}

// Open creates the timestamp-named output file and writes the header row.
// Idempotent; Submit calls it lazily.
func (s *CSV) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

func (s *CSV) openLocked() error {
	if s.file != nil {
		return nil
	}
	if s.closed {
		return eris.New("sink: already closed")
	}

	name := "broker_contacts_" + time.Now().Format("20060102_150405") + ".csv"
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "sink: create output file")
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return eris.Wrap(err, "sink: write header")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return eris.Wrap(err, "sink: flush header")
	}

	s.file = f
	s.w = w
	s.name = path

	zap.L().Info("output file created", zap.String("file", path))
	return nil
}

// Submit validates, deduplicates, and appends one record. It returns false
// with no error for rejected records: duplicates of an already-accepted key,
// and phone numbers with fewer than 10 digits. Accepted records hit disk
// before Submit returns.
func (s *CSV) Submit(rec model.OutputRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec = trimmed(rec)

	if len(digitsOnly(rec.PhoneNumber)) < 10 {
		zap.L().Debug("rejecting invalid phone number", zap.String("phone", rec.PhoneNumber))
		return false, nil
	}

	key := dedupKey{
		street:   rec.Street,
		number:   rec.Number,
		phone:    rec.PhoneNumber,
		document: rec.Document,
	}
	if _, dup := s.seen[key]; dup {
		zap.L().Debug("rejecting duplicate contact", zap.String("phone", rec.PhoneNumber))
		return false, nil
	}

	if err := s.openLocked(); err != nil {
		return false, err
	}

	rec.WhatsappURL = WhatsappURL(rec.PhoneNumber)

	row := []string{
		rec.Street, rec.Number, rec.Name, rec.Document, rec.City,
		rec.Neighborhood, rec.UF, rec.PhoneNumber, rec.WhatsappURL,
	}
	if err := s.w.Write(row); err != nil {
		return false, eris.Wrap(err, "sink: write record")
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return false, eris.Wrap(err, "sink: flush record")
	}
	if err := s.file.Sync(); err != nil {
		return false, eris.Wrap(err, "sink: sync output file")
	}

	s.seen[key] = struct{}{}
	s.written++
	return true, nil
}

// Close flushes and releases the output file. Idempotent; closing an unopened
// sink is a no-op.
func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.file == nil {
		return nil
	}

	s.w.Flush()
	flushErr := s.w.Error()
	closeErr := s.file.Close()
	s.file = nil
	s.w = nil

	if flushErr != nil {
		return eris.Wrap(flushErr, "sink: final flush")
	}
	if closeErr != nil {
		return eris.Wrap(closeErr, "sink: close output file")
	}
	return nil
}

// Stats returns the destination name and counters.
func (s *CSV) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		File:     s.name,
		Written:  s.written,
		Distinct: len(s.seen),
	}
}

// WhatsappURL derives the messaging URL from a phone number. Brazilian
// numbers without a country code get the "55" prefix; a 10-digit number is
// assumed to be missing the leading mobile "9" as well.
func WhatsappURL(phone string) string {
	digits := digitsOnly(phone)
	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "9"):
		digits = "55" + digits
	case len(digits) == 10:
		digits = "559" + digits
	case !strings.HasPrefix(digits, "55"):
		digits = "55" + digits
	}
	return "https://api.whatsapp.com/send?phone=" + digits
}

// digitsOnly strips every non-digit character.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// trimmed returns the record with all text fields whitespace-trimmed.
func trimmed(rec model.OutputRecord) model.OutputRecord {
	rec.Street = strings.TrimSpace(rec.Street)
	rec.Number = strings.TrimSpace(rec.Number)
	rec.Name = strings.TrimSpace(rec.Name)
	rec.Document = strings.TrimSpace(rec.Document)
	rec.City = strings.TrimSpace(rec.City)
	rec.Neighborhood = strings.TrimSpace(rec.Neighborhood)
	rec.UF = strings.TrimSpace(rec.UF)
	rec.PhoneNumber = strings.TrimSpace(rec.PhoneNumber)
	return rec
}
