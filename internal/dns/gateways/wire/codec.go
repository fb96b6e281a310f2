package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/haukened/dnscore/internal/dns/domain"
)

// ParseQuery decodes the header and question section of a client query.
// Every read is bounds-checked; a QDCount that overruns the buffer is an error.
func ParseQuery(data []byte) (domain.Header, []domain.Question, error) {
	h, err := domain.ParseHeader(data)
	if err != nil {
		return domain.Header{}, nil, err
	}
	off := domain.HeaderSize
	questions := make([]domain.Question, 0, countCap(h.QDCount, len(data)-off, minQuestionSize))
	for i := 0; i < int(h.QDCount); i++ {
		var q domain.Question
		q, off, err = readQuestion(data, off)
		if err != nil {
			return domain.Header{}, nil, fmt.Errorf("question %d: %w", i, err)
		}
		questions = append(questions, q)
	}
	return h, questions, nil
}

// Smallest encodings: a root name plus fixed fields.
const (
	minQuestionSize = 1 + 4
	minRecordSize   = 1 + 10
)

// countCap bounds a header count by how many entries the remaining bytes
// could hold, so a forged count cannot size a large allocation.
func countCap(count uint16, remaining, minSize int) int {
	if remaining <= 0 {
		return 0
	}
	return min(int(count), remaining/minSize)
}

func readQuestion(data []byte, off int) (domain.Question, int, error) {
	name, off, err := DecodeName(data, off)
	if err != nil {
		return domain.Question{}, 0, err
	}
	if off+4 > len(data) {
		return domain.Question{}, 0, fmt.Errorf("%w: question truncated", domain.ErrMalformedMessage)
	}
	return domain.Question{
		Name:  name,
		Type:  domain.RRType(binary.BigEndian.Uint16(data[off : off+2])),
		Class: domain.RRClass(binary.BigEndian.Uint16(data[off+2 : off+4])),
	}, off + 4, nil
}

// BuildResponse serializes a response. It marks header as an authoritative
// response with recursion available and sets the section counts from
// questions and answers; authority and additional sections are always empty.
func BuildResponse(header *domain.Header, questions []domain.Question, answers []domain.Record) ([]byte, error) {
	if len(questions) > 0xFFFF || len(answers) > 0xFFFF {
		return nil, fmt.Errorf("%w: too many records", ErrFormat)
	}
	header.SetAsResponse()
	header.SetRecursionAvailable()
	header.QDCount = uint16(len(questions))
	header.ANCount = uint16(len(answers))
	header.NSCount = 0
	header.ARCount = 0

	buf := make([]byte, 0, 512)
	buf = append(buf, header.Bytes()...)

	for _, q := range questions {
		name, err := EncodeName(q.Name)
		if err != nil {
			return nil, fmt.Errorf("question %q: %w", q.Name, err)
		}
		buf = append(buf, name...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(q.Type))
		buf = binary.BigEndian.AppendUint16(buf, uint16(q.Class))
	}

	for _, rr := range answers {
		var err error
		buf, err = appendRecord(buf, rr)
		if err != nil {
			return nil, fmt.Errorf("answer %s: %w", rr, err)
		}
	}
	return buf, nil
}

func appendRecord(buf []byte, rr domain.Record) ([]byte, error) {
	name, err := EncodeName(rr.Domain)
	if err != nil {
		return nil, err
	}
	rdata, err := encodeRData(rr.Type, rr.Value)
	if err != nil {
		return nil, err
	}
	if len(rdata) > 0xFFFF {
		return nil, fmt.Errorf("%w: rdata is %d bytes", ErrFormat, len(rdata))
	}
	buf = append(buf, name...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(rr.Type))
	buf = binary.BigEndian.AppendUint16(buf, uint16(domain.RRClassIN))
	buf = binary.BigEndian.AppendUint32(buf, rr.WireTTL())
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(rdata)))
	return append(buf, rdata...), nil
}

// BuildErrorResponse serializes an answerless response carrying rcode,
// echoing the client's questions.
func BuildErrorResponse(header *domain.Header, questions []domain.Question, rcode domain.RCode) ([]byte, error) {
	header.SetAsResponse()
	header.SetRCode(rcode)
	return BuildResponse(header, questions, nil)
}

// BuildQuery serializes a recursive query for a single question.
func BuildQuery(id uint16, q domain.Question) ([]byte, error) {
	h := domain.Header{ID: id, Flags: domain.FlagRD, QDCount: 1}
	buf := h.Bytes()
	name, err := EncodeName(q.Name)
	if err != nil {
		return nil, err
	}
	class := q.Class
	if class == 0 {
		class = domain.RRClassIN
	}
	buf = append(buf, name...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(q.Type))
	buf = binary.BigEndian.AppendUint16(buf, uint16(class))
	return buf, nil
}

// ParseResponse extracts the answer section of an upstream response.
// Messages that are not responses, or carry no answers, yield an empty list.
func ParseResponse(data []byte) ([]domain.Record, error) {
	h, err := domain.ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if !h.IsResponse() || h.ANCount == 0 {
		return nil, nil
	}

	off := domain.HeaderSize
	for i := 0; i < int(h.QDCount); i++ {
		if _, off, err = readQuestion(data, off); err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
	}

	records := make([]domain.Record, 0, countCap(h.ANCount, len(data)-off, minRecordSize))
	for i := 0; i < int(h.ANCount); i++ {
		var rr domain.Record
		rr, off, err = readRecord(data, off)
		if err != nil {
			return nil, fmt.Errorf("answer %d: %w", i, err)
		}
		records = append(records, rr)
	}
	return records, nil
}

func readRecord(data []byte, off int) (domain.Record, int, error) {
	name, off, err := DecodeName(data, off)
	if err != nil {
		return domain.Record{}, 0, err
	}
	if off+10 > len(data) {
		return domain.Record{}, 0, fmt.Errorf("%w: record header truncated", domain.ErrMalformedMessage)
	}
	rrType := domain.RRType(binary.BigEndian.Uint16(data[off : off+2]))
	ttl := binary.BigEndian.Uint32(data[off+4 : off+8])
	rdLen := int(binary.BigEndian.Uint16(data[off+8 : off+10]))
	off += 10
	if off+rdLen > len(data) {
		return domain.Record{}, 0, fmt.Errorf("%w: rdata overruns message", domain.ErrMalformedMessage)
	}
	value, err := decodeRData(rrType, data, off, rdLen)
	if err != nil {
		return domain.Record{}, 0, err
	}
	return domain.Record{
		Domain: name,
		Type:   rrType,
		Value:  value,
		TTL:    int(ttl),
	}, off + rdLen, nil
}
